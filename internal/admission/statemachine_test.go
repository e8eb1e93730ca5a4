package admission_test

import (
	"context"
	"testing"
	"time"

	"confsfu/internal/admission"
	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/apperror"
	"confsfu/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockUserRepo struct{ mock.Mock }

func (m *mockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}
func (m *mockUserRepo) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}
func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type mockMeetingRepo struct{ mock.Mock }

func (m *mockMeetingRepo) Create(ctx context.Context, mt *domain.Meeting) error {
	args := m.Called(ctx, mt)
	return args.Error(0)
}
func (m *mockMeetingRepo) GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Meeting), args.Error(1)
}
func (m *mockMeetingRepo) GetByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Meeting), args.Error(1)
}
func (m *mockMeetingRepo) Update(ctx context.Context, mt *domain.Meeting) error {
	args := m.Called(ctx, mt)
	return args.Error(0)
}
func (m *mockMeetingRepo) ListIdleInstant(ctx context.Context, olderThan int64) ([]*domain.Meeting, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Meeting), args.Error(1)
}
func (m *mockMeetingRepo) Delete(ctx context.Context, id domain.MeetingID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockParticipantRepo struct{ mock.Mock }

func (m *mockParticipantRepo) Create(ctx context.Context, p *domain.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
func (m *mockParticipantRepo) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}
func (m *mockParticipantRepo) GetByUserAndMeeting(ctx context.Context, userID domain.UserID, meetingID domain.MeetingID) (*domain.Participant, error) {
	args := m.Called(ctx, userID, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}
func (m *mockParticipantRepo) Update(ctx context.Context, p *domain.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
func (m *mockParticipantRepo) ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}
func (m *mockParticipantRepo) ListNonRemovedByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}
func (m *mockParticipantRepo) TransferHost(ctx context.Context, meetingID domain.MeetingID, oldHostID, newHostID domain.ParticipantID, newHostUserID domain.UserID) error {
	args := m.Called(ctx, meetingID, oldHostID, newHostID, newHostUserID)
	return args.Error(0)
}

type mockRoomRegistry struct{ mock.Mock }

func (m *mockRoomRegistry) GetOrCreate(meetingCode string, meetingID domain.MeetingID) (ports.Room, error) {
	args := m.Called(meetingCode, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Room), args.Error(1)
}
func (m *mockRoomRegistry) Get(meetingCode string) (ports.Room, bool) {
	args := m.Called(meetingCode)
	if args.Get(0) == nil {
		return nil, false
	}
	return args.Get(0).(ports.Room), args.Bool(1)
}
func (m *mockRoomRegistry) Remove(meetingCode string) {
	m.Called(meetingCode)
}

type mockConnDirectory struct{ mock.Mock }

func (m *mockConnDirectory) ConnForParticipant(participantID domain.ParticipantID) (domain.ConnID, bool) {
	args := m.Called(participantID)
	return args.Get(0).(domain.ConnID), args.Bool(1)
}
func (m *mockConnDirectory) Disconnect(connID domain.ConnID) {
	m.Called(connID)
}

type mockBroadcaster struct{ mock.Mock }

func (m *mockBroadcaster) Send(connID domain.ConnID, event string, payload interface{}) {
	m.Called(connID, event, payload)
}
func (m *mockBroadcaster) Broadcast(group, event string, payload interface{}, excludeConnID domain.ConnID) {
	m.Called(group, event, payload, excludeConnID)
}
func (m *mockBroadcaster) MoveGroup(connID domain.ConnID, from, to string) {
	m.Called(connID, from, to)
}
func (m *mockBroadcaster) DisconnectGroup(group string) {
	m.Called(group)
}

func newFixture() (*admission.StateMachine, *mockUserRepo, *mockMeetingRepo, *mockParticipantRepo, *mockRoomRegistry, *mockConnDirectory, *mockBroadcaster) {
	users := new(mockUserRepo)
	meetings := new(mockMeetingRepo)
	participants := new(mockParticipantRepo)
	rooms := new(mockRoomRegistry)
	conns := new(mockConnDirectory)
	bcast := new(mockBroadcaster)
	sm := admission.NewStateMachine(users, meetings, participants, rooms, conns, bcast, logger.New("error").Sugar())
	return sm, users, meetings, participants, rooms, conns, bcast
}

func TestJoin_LobbyEnabledNonHostGoesToLobby(t *testing.T) {
	sm, _, meetings, participants, _, _, bcast := newFixture()
	ctx := context.Background()

	meeting := &domain.Meeting{ID: "m1", Code: "abc-defg-hij", HostUserID: "host1", LobbyEnabled: true, Status: domain.MeetingLive}
	meetings.On("GetByCode", ctx, "abc-defg-hij").Return(meeting, nil)
	participants.On("GetByUserAndMeeting", ctx, domain.UserID("bob"), domain.MeetingID("m1")).Return(nil, apperror.NotFound("participant"))
	participants.On("Create", ctx, mock.AnythingOfType("*domain.Participant")).Return(nil)
	bcast.On("Broadcast", "meeting:abc-defg-hij", "lobby-participant", mock.Anything, domain.ConnID("")).Return()

	user := &domain.User{ID: "bob", Name: "Bob"}
	p, m, admitted, err := sm.Join(ctx, "abc-defg-hij", user)

	assert.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, domain.StatusInLobby, p.Status)
	assert.Equal(t, meeting.ID, m.ID)
	participants.AssertExpectations(t)
	bcast.AssertExpectations(t)
}

func TestJoin_HostAlwaysAdmitted(t *testing.T) {
	sm, _, meetings, participants, _, _, _ := newFixture()
	ctx := context.Background()

	meeting := &domain.Meeting{ID: "m1", Code: "abc-defg-hij", HostUserID: "alice", LobbyEnabled: true, Status: domain.MeetingScheduled}
	meetings.On("GetByCode", ctx, "abc-defg-hij").Return(meeting, nil)
	participants.On("GetByUserAndMeeting", ctx, domain.UserID("alice"), domain.MeetingID("m1")).Return(nil, apperror.NotFound("participant"))
	participants.On("Create", ctx, mock.AnythingOfType("*domain.Participant")).Return(nil)
	meetings.On("Update", ctx, mock.AnythingOfType("*domain.Meeting")).Return(nil)

	user := &domain.User{ID: "alice", Name: "Alice"}
	p, _, admitted, err := sm.Join(ctx, "abc-defg-hij", user)

	assert.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, domain.StatusInMeeting, p.Status)
	assert.Equal(t, domain.RoleHost, p.Role)
	meetings.AssertCalled(t, "Update", ctx, mock.MatchedBy(func(mt *domain.Meeting) bool {
		return mt.Status == domain.MeetingLive
	}))
}

func TestAdmit_RequiresLobbyStatus(t *testing.T) {
	sm, _, _, participants, _, _, _ := newFixture()
	ctx := context.Background()

	p := &domain.Participant{ID: "p1", Status: domain.StatusInMeeting}
	participants.On("GetByID", ctx, domain.ParticipantID("p1")).Return(p, nil)

	_, err := sm.Admit(ctx, "m1", "p1")
	assert.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))
}

func TestKick_ForbidsTargetingHost(t *testing.T) {
	sm, _, _, participants, _, _, _ := newFixture()
	ctx := context.Background()

	p := &domain.Participant{ID: "p1", Role: domain.RoleHost, Status: domain.StatusInMeeting}
	participants.On("GetByID", ctx, domain.ParticipantID("p1")).Return(p, nil)

	err := sm.Kick(ctx, "m1", "p1")
	assert.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodePermissionDenied))
}

func TestTransferHost_RequiresCallerIsHost(t *testing.T) {
	sm, _, _, participants, _, _, _ := newFixture()
	ctx := context.Background()

	caller := &domain.Participant{ID: "p1", Role: domain.RoleCoHost}
	participants.On("GetByID", ctx, domain.ParticipantID("p1")).Return(caller, nil)

	err := sm.TransferHost(ctx, "m1", "p1", "p2")
	assert.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodePermissionDenied))
}

func TestTransferHost_Success(t *testing.T) {
	sm, _, meetings, participants, _, _, bcast := newFixture()
	ctx := context.Background()

	caller := &domain.Participant{ID: "p1", Role: domain.RoleHost}
	target := &domain.Participant{ID: "p2", UserID: "bob"}
	meeting := &domain.Meeting{ID: "m1", Code: "abc-defg-hij"}

	participants.On("GetByID", ctx, domain.ParticipantID("p1")).Return(caller, nil)
	participants.On("GetByID", ctx, domain.ParticipantID("p2")).Return(target, nil)
	participants.On("TransferHost", ctx, domain.MeetingID("m1"), domain.ParticipantID("p1"), domain.ParticipantID("p2"), domain.UserID("bob")).Return(nil)
	meetings.On("GetByID", ctx, domain.MeetingID("m1")).Return(meeting, nil)
	bcast.On("Broadcast", "meeting:abc-defg-hij", "host-changed", mock.Anything, domain.ConnID("")).Return()

	err := sm.TransferHost(ctx, "m1", "p1", "p2")
	assert.NoError(t, err)
	participants.AssertExpectations(t)
	bcast.AssertExpectations(t)
}

func TestDisconnect_LeavesStatusUnchanged(t *testing.T) {
	sm, _, _, participants, _, _, _ := newFixture()
	ctx := context.Background()

	p := &domain.Participant{ID: "p1", Status: domain.StatusInMeeting}
	participants.On("GetByID", ctx, domain.ParticipantID("p1")).Return(p, nil)
	participants.On("Update", ctx, mock.MatchedBy(func(up *domain.Participant) bool {
		return up.Status == domain.StatusInMeeting && up.LeftAt != nil
	})).Return(nil)

	err := sm.Disconnect(ctx, "p1")
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now(), *p.LeftAt, time.Second)
}

func TestEndMeeting_ClosesRoomAndBroadcasts(t *testing.T) {
	sm, _, meetings, _, rooms, _, bcast := newFixture()
	ctx := context.Background()

	meeting := &domain.Meeting{ID: "m1", Code: "abc-defg-hij", Status: domain.MeetingLive}
	meetings.On("GetByID", ctx, domain.MeetingID("m1")).Return(meeting, nil)
	meetings.On("Update", ctx, mock.MatchedBy(func(mt *domain.Meeting) bool {
		return mt.Status == domain.MeetingEnded && mt.EndedAt != nil
	})).Return(nil)
	rooms.On("Remove", "abc-defg-hij").Return()
	bcast.On("Broadcast", "meeting:abc-defg-hij", "meeting-ended", mock.Anything, domain.ConnID("")).Return()
	bcast.On("DisconnectGroup", "meeting:abc-defg-hij").Return()
	bcast.On("DisconnectGroup", "lobby:abc-defg-hij").Return()

	err := sm.EndMeeting(ctx, "m1")
	assert.NoError(t, err)
	rooms.AssertExpectations(t)
	bcast.AssertExpectations(t)
}

package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"qrattend/internal/directory"
	"qrattend/internal/session"
)

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) FindByExternalID(ctx context.Context, studentID string) (*directory.Student, error) {
	args := m.Called(ctx, studentID)
	st, _ := args.Get(0).(*directory.Student)
	return st, args.Error(1)
}

func (m *mockDirectory) Create(ctx context.Context, st directory.Student) (directory.Student, error) {
	args := m.Called(ctx, st)
	out, _ := args.Get(0).(directory.Student)
	return out, args.Error(1)
}

func (m *mockDirectory) Update(ctx context.Context, id string, patch directory.StudentPatch) (directory.Student, error) {
	args := m.Called(ctx, id, patch)
	out, _ := args.Get(0).(directory.Student)
	return out, args.Error(1)
}

func (m *mockDirectory) List(ctx context.Context) ([]directory.Student, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]directory.Student)
	return out, args.Error(1)
}

type recordingReconciler struct {
	mu   sync.Mutex
	jobs []StudentUpsert
}

func (r *recordingReconciler) Dispatch(_ context.Context, up StudentUpsert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, up)
}

func strPtr(s string) *string { return &s }

func setup(t *testing.T, reconciler Reconciler) (*Recorder, *session.Store, session.Session) {
	t.Helper()
	store := session.NewStore(session.NewMemoryRepository(), nil)
	sess, err := store.CreateSession(context.Background(), session.CreateInput{
		CourseID:   "CS101",
		CourseName: "Intro to CS",
		TeacherID:  "T1",
	})
	require.NoError(t, err)
	return NewRecorder(store, reconciler, nil), store, sess
}

func TestMarkAttendance_Validation(t *testing.T) {
	rec, _, sess := setup(t, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		sessionID string
		in        MarkInput
		wantErr   error
	}{
		{name: "missing session id", sessionID: "", in: MarkInput{StudentID: "S1"}, wantErr: session.ErrInvalidInput},
		{name: "missing session id wins over missing identity", sessionID: " ", in: MarkInput{}, wantErr: session.ErrInvalidInput},
		{name: "missing identity", sessionID: sess.SessionID, in: MarkInput{StudentEmail: "a@b.c"}, wantErr: session.ErrInvalidInput},
		{name: "identity checked before lookup", sessionID: "unknown", in: MarkInput{}, wantErr: session.ErrInvalidInput},
		{name: "unknown session", sessionID: "unknown", in: MarkInput{StudentID: "S1"}, wantErr: session.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.MarkAttendance(ctx, tt.sessionID, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMarkAttendance_Scenario(t *testing.T) {
	reconciler := &recordingReconciler{}
	rec, store, sess := setup(t, reconciler)
	ctx := context.Background()

	att, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S1", StudentName: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "S1", att.StudentID)
	assert.Equal(t, "Ana", att.StudentName)
	assert.Empty(t, att.StudentEmail)
	assert.False(t, att.MarkedAt.IsZero())

	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Attendees, 1)

	_, err = rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S1", StudentName: "Ana again"})
	assert.ErrorIs(t, err, session.ErrConflict)

	_, err = store.CloseSession(ctx, sess.SessionID)
	require.NoError(t, err)

	_, err = rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S2", StudentName: "Luis"})
	assert.ErrorIs(t, err, session.ErrInvalidState)

	report, err := rec.Report(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalAttendees)
	assert.Len(t, report.Attendees, report.TotalAttendees)
	assert.NotNil(t, report.ClosedAt)
	assert.Equal(t, "CS101", report.CourseID)
	assert.Equal(t, "Intro to CS", report.CourseName)

	require.Len(t, reconciler.jobs, 1)
	assert.Equal(t, StudentUpsert{StudentID: "S1", Name: "Ana"}, reconciler.jobs[0])
}

func TestMarkAttendance_ClosedSessionLeavesAttendeesUnchanged(t *testing.T) {
	rec, store, sess := setup(t, nil)
	ctx := context.Background()

	_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S1"})
	require.NoError(t, err)
	_, err = store.CloseSession(ctx, sess.SessionID)
	require.NoError(t, err)

	for _, id := range []string{"S1", "S2", ""} {
		_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: id, StudentName: "x"})
		assert.ErrorIs(t, err, session.ErrInvalidState)
	}

	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Attendees, 1)
}

func TestMarkAttendance_NameOnlyDedup(t *testing.T) {
	reconciler := &recordingReconciler{}
	rec, store, sess := setup(t, reconciler)
	ctx := context.Background()

	_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentName: "Ana Perez"})
	require.NoError(t, err)

	_, err = rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentName: "  ana perez "})
	assert.ErrorIs(t, err, session.ErrConflict)

	// a student id never collides with name-only records
	_, err = rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S9", StudentName: "Ana Perez"})
	require.NoError(t, err)

	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Attendees, 2)

	require.Len(t, reconciler.jobs, 1, "name-only marks are not reconciled")
	assert.Equal(t, "S9", reconciler.jobs[0].StudentID)
}

func TestMarkAttendance_TrimsInput(t *testing.T) {
	rec, _, sess := setup(t, nil)

	att, err := rec.MarkAttendance(context.Background(), "  "+sess.SessionID+" ", MarkInput{
		StudentID:    " S1 ",
		StudentEmail: " ana@uni.edu ",
	})
	require.NoError(t, err)
	assert.Equal(t, "S1", att.StudentID)
	assert.Equal(t, "ana@uni.edu", att.StudentEmail)
}

func TestMarkAttendance_ConcurrentSameStudent(t *testing.T) {
	for _, n := range []int{1, 2, 16, 64} {
		rec, store, sess := setup(t, nil)
		ctx := context.Background()

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			accepted  int
			conflicts int
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S1", StudentName: "Ana"})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					accepted++
				case errors.Is(err, session.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, accepted, "n=%d", n)
		assert.Equal(t, n-1, conflicts, "n=%d", n)

		got, err := store.GetSession(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Len(t, got.Attendees, 1)
	}
}

func TestMarkAttendance_ConcurrentDistinctStudents(t *testing.T) {
	rec, store, sess := setup(t, nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: string(rune('A'+i%26)) + string(rune('a'+i/26))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := rec.Report(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, n, report.TotalAttendees)
	assert.Len(t, report.Attendees, n)

	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	for i := 1; i < len(got.Attendees); i++ {
		assert.False(t, got.Attendees[i].MarkedAt.Before(got.Attendees[i-1].MarkedAt), "attendees keep arrival order")
	}
}

func TestReport(t *testing.T) {
	rec, _, sess := setup(t, nil)
	ctx := context.Background()

	report, err := rec.Report(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, report.SessionID)
	assert.Equal(t, 0, report.TotalAttendees)
	assert.NotNil(t, report.Attendees)
	assert.Nil(t, report.ClosedAt)
	assert.Equal(t, sess.CreatedAt, report.CreatedAt)

	_, err = rec.Report(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestMarkAttendance_ReconcileFailureIsSwallowed(t *testing.T) {
	dir := new(mockDirectory)
	dir.On("FindByExternalID", mock.Anything, "S1").Return(nil, errors.New("directory down"))

	rec, store, sess := setup(t, NewInlineReconciler(dir, nil, time.Second))
	att, err := rec.MarkAttendance(context.Background(), sess.SessionID, MarkInput{StudentID: "S1", StudentName: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "S1", att.StudentID)

	got, err := store.GetSession(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Attendees, 1)
	dir.AssertExpectations(t)
}

func TestMarkAttendance_ReconcileSurvivesCancelledRequest(t *testing.T) {
	dir := new(mockDirectory)
	dir.On("FindByExternalID", mock.Anything, "S1").Return(nil, nil).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		assert.NoError(t, ctx.Err())
	})
	dir.On("Create", mock.Anything, mock.Anything).Return(directory.Student{ID: "x"}, nil)

	rec, _, sess := setup(t, NewInlineReconciler(dir, nil, time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the session store ignores cancellation; the reconciler detaches from it
	_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S1"})
	require.NoError(t, err)
	dir.AssertExpectations(t)
}

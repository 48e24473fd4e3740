package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/session"
)

func setupRedis(t *testing.T) (*Recorder, *session.Store, session.Session) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := session.NewStore(session.NewRedisRepository(client, "qrattend-test"), nil)
	sess, err := store.CreateSession(context.Background(), session.CreateInput{CourseID: "CS101", TeacherID: "T1"})
	require.NoError(t, err)
	return NewRecorder(store, nil, nil), store, sess
}

func TestMarkAttendance_RedisConcurrentDistinctStudents(t *testing.T) {
	rec, store, sess := setupRedis(t)
	ctx := context.Background()

	const n = 48
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: fmt.Sprintf("S%02d", i)})
			assert.NoError(t, err)
		}(i)
	}
	close(start)
	wg.Wait()

	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Attendees, n)
}

func TestMarkAttendance_RedisConcurrentSameStudent(t *testing.T) {
	rec, store, sess := setupRedis(t)
	ctx := context.Background()

	const n = 32
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
			_, err := rec.MarkAttendance(ctx, sess.SessionID, MarkInput{StudentID: "S1"})
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

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, conflicts)
	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Attendees, 1)
}

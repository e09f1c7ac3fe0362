package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

type fakeBridge struct {
	sessionID  string
	expiresInS int
	updates    chan interfaces.SessionUpdate
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{sessionID: "sess-1", expiresInS: 180, updates: make(chan interfaces.SessionUpdate, 8)}
}

func (f *fakeBridge) Start(ctx context.Context) error { return nil }
func (f *fakeBridge) Stop(ctx context.Context) error  { return nil }
func (f *fakeBridge) Health(ctx context.Context) bool  { return true }

func (f *fakeBridge) OpenSession(ctx context.Context) (*interfaces.OpenSessionResult, error) {
	return &interfaces.OpenSessionResult{SessionID: f.sessionID, QrImagePNG: []byte("png"), ExpiresInS: f.expiresInS}, nil
}

func (f *fakeBridge) Listen(ctx context.Context, sessionID string) (<-chan interfaces.SessionUpdate, error) {
	return f.updates, nil
}

func (f *fakeBridge) Validate(ctx context.Context, cookies map[string]string) (*interfaces.ValidateResult, error) {
	return nil, errors.New("not used in this test")
}

func (f *fakeBridge) Search(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange, page int) (*interfaces.SearchResult, error) {
	return nil, errors.New("not used in this test")
}

func (f *fakeBridge) Logs(ctx context.Context, limit int) ([]string, error) { return nil, nil }

type fakeValidator struct {
	result *interfaces.ValidationResult
	err    error
}

func (f *fakeValidator) Validate(ctx context.Context, cookies map[string]string, expectedUID string) (*interfaces.ValidationResult, error) {
	return f.result, f.err
}

type fakeStore struct {
	saved *models.CredentialRecord
	err   error
}

func (f *fakeStore) Save(ctx context.Context, record *models.CredentialRecord) (interfaces.SaveOutcome, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.saved = record
	return interfaces.SaveCreated, "weiqr:cookies:" + record.UID, nil
}
func (f *fakeStore) Query(ctx context.Context, uid string) (*models.CredentialRecord, error) {
	return nil, errors.New("not used in this test")
}
func (f *fakeStore) List(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) Delete(ctx context.Context, uid string) error { return nil }

type fakeEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (f *fakeEvents) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}
func (f *fakeEvents) Unsubscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}
func (f *fakeEvents) Publish(ctx context.Context, event interfaces.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
func (f *fakeEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return f.Publish(ctx, event)
}
func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) types() []models.LoginEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LoginEventType
	for _, e := range f.events {
		if le, ok := e.Payload.(models.LoginEvent); ok {
			out = append(out, le.EventType)
		}
	}
	return out
}

func waitFor(t *testing.T, events *fakeEvents, eventType models.LoginEventType) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, et := range events.types() {
			if et == eventType {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %s, got %v", eventType, events.types())
}

func TestOrchestrator_HappyLogin_StoresCredential(t *testing.T) {
	bridge := newFakeBridge()
	validator := &fakeValidator{result: &interfaces.ValidationResult{UID: "42", DisplayName: "Alice"}}
	store := &fakeStore{}
	events := &fakeEvents{}

	o := New(bridge, validator, store, events, 180*time.Second, arbor.NewLogger())

	result, err := o.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sess-1", result.SessionID)

	waitFor(t, events, models.EventQrGenerated)

	bridge.updates <- interfaces.SessionUpdate{Status: interfaces.SidecarStatusScanned}
	waitFor(t, events, models.EventQrScanned)

	bridge.updates <- interfaces.SessionUpdate{
		Status:  interfaces.SidecarStatusConfirmed,
		Cookies: map[string]string{"SUB": "tok", "SUBP": "sec"},
	}
	waitFor(t, events, models.EventValidationSuccess)

	require.Equal(t, "42", store.saved.UID)
	require.Equal(t, "Alice", store.saved.DisplayName)
}

func TestOrchestrator_ValidationFailure_EmitsValidationFailed(t *testing.T) {
	bridge := newFakeBridge()
	validator := &fakeValidator{err: errors.New("probe rejected")}
	store := &fakeStore{}
	events := &fakeEvents{}

	o := New(bridge, validator, store, events, 180*time.Second, arbor.NewLogger())

	_, err := o.Open(context.Background())
	require.NoError(t, err)

	bridge.updates <- interfaces.SessionUpdate{
		Status:  interfaces.SidecarStatusConfirmed,
		Cookies: map[string]string{"SUB": "tok", "SUBP": "sec"},
	}
	waitFor(t, events, models.EventValidationFailed)
}

func TestOrchestrator_RejectedByUser_EmitsRejected(t *testing.T) {
	bridge := newFakeBridge()
	o := New(bridge, &fakeValidator{}, &fakeStore{}, &fakeEvents{}, 180*time.Second, arbor.NewLogger())

	events := o.events.(*fakeEvents)

	_, err := o.Open(context.Background())
	require.NoError(t, err)

	bridge.updates <- interfaces.SessionUpdate{Status: interfaces.SidecarStatusRejected}
	waitFor(t, events, models.EventRejected)
}

func TestOrchestrator_Cancel_ReleasesSession(t *testing.T) {
	bridge := newFakeBridge()
	o := New(bridge, &fakeValidator{}, &fakeStore{}, &fakeEvents{}, 180*time.Second, arbor.NewLogger())

	result, err := o.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.Cancel(context.Background(), result.SessionID))

	err = o.Cancel(context.Background(), result.SessionID)
	require.Error(t, err)
}

func TestOrchestrator_Expiry_EmitsQrExpired(t *testing.T) {
	bridge := newFakeBridge()
	bridge.sessionID = "sess-expiring"
	bridge.expiresInS = 0
	events := &fakeEvents{}
	o := New(bridge, &fakeValidator{}, &fakeStore{}, events, 10*time.Millisecond, arbor.NewLogger())

	_, err := o.Open(context.Background())
	require.NoError(t, err)

	waitFor(t, events, models.EventQrExpired)
}

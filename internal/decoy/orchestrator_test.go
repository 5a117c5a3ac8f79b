package decoy

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

type stubBus struct {
	mu     sync.Mutex
	seq    int64
	topics []string
}

func (b *stubBus) Publish(ctx context.Context, eventType string, payload any, sourceID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.topics = append(b.topics, eventType)
	return b.seq, nil
}

func (b *stubBus) Subscribe(types []string, handler plugin.EventHandler) func() {
	return func() {}
}

func (b *stubBus) Replay(ctx context.Context, sinceSeq int64) ([]models.Event, error) {
	return nil, nil
}

func testOrchestrator(t *testing.T) (*Orchestrator, *DecoyStore) {
	t.Helper()
	s := testDecoyStore(t)
	o := NewOrchestrator(s, &stubBus{}, zap.NewNop(), "127.0.0.1", 3, 3, 5*time.Minute)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.StopAll(ctx)
	})
	return o, s
}

func insertActiveMimic(t *testing.T, s *DecoyStore, port int) *models.Decoy {
	t.Helper()
	tmpl := models.MimicTemplate{
		SourceDeviceID: "dev-1",
		Category:       models.MimicCamera,
		Ports:          []int{port},
		ServerHeader:   "lighttpd/1.4.59",
		Routes: []models.MimicRoute{
			{Port: port, Path: "/", Method: http.MethodGet, Status: 401, Body: "unauthorized"},
		},
	}
	d := &models.Decoy{
		Name:        "mimic camera (127.0.0.1)",
		DecoyType:   models.DecoyMimic,
		BindAddress: "127.0.0.1",
		Port:        port,
		Status:      models.DecoyActive,
		Config:      map[string]any{"template": tmpl},
	}
	if err := s.InsertDecoy(context.Background(), d); err != nil {
		t.Fatalf("insert mimic decoy: %v", err)
	}
	return d
}

func TestOrchestrator_ResumeActive_RebuildsMimicFromTemplate(t *testing.T) {
	o, s := testOrchestrator(t)
	ctx := context.Background()

	d := insertActiveMimic(t, s, 19473)
	cred := &models.PlantedCredential{
		CredentialType:  models.CredentialUserPass,
		CredentialValue: "backup:resumedresumed",
		PlantedLocation: "/backup/credentials.txt",
		DecoyID:         d.ID,
	}
	if err := s.InsertCredential(ctx, cred); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	resumed, err := o.ResumeActive(ctx)
	if err != nil {
		t.Fatalf("resume active: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("resumed = %d, want 1", resumed)
	}

	got, err := s.GetDecoy(ctx, d.ID)
	if err != nil {
		t.Fatalf("get decoy: %v", err)
	}
	if got.Status != models.DecoyActive {
		t.Errorf("decoy status after boot = %q, want active", got.Status)
	}
	if running := o.Running(); len(running) != 1 || running[0].ID != d.ID {
		t.Errorf("running = %+v, want the resumed mimic", running)
	}

	resp, err := http.Get("http://127.0.0.1:19473/")
	if err != nil {
		t.Fatalf("get resumed mimic: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("status = %d, want the template's 401", resp.StatusCode)
	}
	if resp.Header.Get("Server") != "lighttpd/1.4.59" {
		t.Errorf("server header = %q", resp.Header.Get("Server"))
	}

	// The planted credential comes back with the decoy.
	resp2, err := http.Get("http://127.0.0.1:19473/backup/credentials.txt")
	if err != nil {
		t.Fatalf("get credential route: %v", err)
	}
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	if string(body) != cred.CredentialValue {
		t.Errorf("credential route body = %q, want planted value", body)
	}
}

func TestOrchestrator_ResumeActive_ArchetypeDecoy(t *testing.T) {
	o, s := testOrchestrator(t)
	ctx := context.Background()

	d := &models.Decoy{
		Name:        "file_share decoy",
		DecoyType:   models.DecoyFileShare,
		BindAddress: "127.0.0.1",
		Port:        0,
		Status:      models.DecoyActive,
	}
	if err := s.InsertDecoy(ctx, d); err != nil {
		t.Fatalf("insert decoy: %v", err)
	}

	resumed, err := o.ResumeActive(ctx)
	if err != nil {
		t.Fatalf("resume active: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("resumed = %d, want 1", resumed)
	}

	got, _ := s.GetDecoy(ctx, d.ID)
	if got.Port == 0 {
		t.Error("OS-assigned port was not persisted on resume")
	}
	if got.Status != models.DecoyActive {
		t.Errorf("status = %q, want active", got.Status)
	}
}

func TestOrchestrator_ResumeActive_MimicWithoutTemplateGoesStopped(t *testing.T) {
	o, s := testOrchestrator(t)
	ctx := context.Background()

	d := &models.Decoy{
		Name:        "mimic camera (127.0.0.1)",
		DecoyType:   models.DecoyMimic,
		BindAddress: "127.0.0.1",
		Port:        19474,
		Status:      models.DecoyActive,
	}
	if err := s.InsertDecoy(ctx, d); err != nil {
		t.Fatalf("insert decoy: %v", err)
	}

	resumed, err := o.ResumeActive(ctx)
	if err != nil {
		t.Fatalf("resume active: %v", err)
	}
	if resumed != 0 {
		t.Errorf("resumed = %d, want 0", resumed)
	}

	got, _ := s.GetDecoy(ctx, d.ID)
	if got.Status != models.DecoyStopped {
		t.Errorf("status = %q, want stopped", got.Status)
	}
	if running := o.Running(); len(running) != 0 {
		t.Errorf("running = %+v, want none", running)
	}
}

func TestOrchestrator_ResumeActive_PerPortRouteTables(t *testing.T) {
	o, s := testOrchestrator(t)
	ctx := context.Background()

	tmpl := models.MimicTemplate{
		SourceDeviceID: "dev-2",
		Category:       models.MimicNAS,
		Ports:          []int{19475, 19476},
		Routes: []models.MimicRoute{
			{Port: 19475, Path: "/", Method: http.MethodGet, Status: 301, Body: "redirect"},
			{Port: 19476, Path: "/", Method: http.MethodGet, Status: 200, Body: "login"},
		},
	}
	d := &models.Decoy{
		Name:        "mimic nas (127.0.0.1)",
		DecoyType:   models.DecoyMimic,
		BindAddress: "127.0.0.1",
		Port:        19475,
		Status:      models.DecoyActive,
		Config:      map[string]any{"template": tmpl},
	}
	if err := s.InsertDecoy(ctx, d); err != nil {
		t.Fatalf("insert decoy: %v", err)
	}

	if resumed, err := o.ResumeActive(ctx); err != nil || resumed != 1 {
		t.Fatalf("resumed = %d, err = %v", resumed, err)
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get("http://127.0.0.1:19475/")
	if err != nil {
		t.Fatalf("get port 19475: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 301 {
		t.Errorf("port 19475 status = %d, want its own route's 301", resp.StatusCode)
	}

	resp, err = client.Get("http://127.0.0.1:19476/")
	if err != nil {
		t.Fatalf("get port 19476: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("port 19476 status = %d, want its own route's 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "login" {
		t.Errorf("port 19476 body = %q, want the route bound to that port", body)
	}
}

package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/ProductLabsUS/Flusso-Automation/internal/llm"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTickets struct {
	tickets map[string]Ticket
	err     error
}

func (f *fakeTickets) FetchTicket(ctx context.Context, id string) (Ticket, error) {
	if f.err != nil {
		return Ticket{}, f.err
	}
	t, ok := f.tickets[id]
	if !ok {
		return Ticket{}, errors.New("ticket not found")
	}
	return t, nil
}

type postedNote struct {
	ID      string
	Text    string
	Private bool
}

type fakeSink struct {
	mu      sync.Mutex
	notes   []postedNote
	tags    map[string][]string
	noteErr error
	tagsErr error
}

func (f *fakeSink) PostNote(ctx context.Context, id, text string, private bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noteErr != nil {
		return f.noteErr
	}
	f.notes = append(f.notes, postedNote{ID: id, Text: text, Private: private})
	return nil
}

func (f *fakeSink) UpdateTags(ctx context.Context, id string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tagsErr != nil {
		return f.tagsErr
	}
	if f.tags == nil {
		f.tags = map[string][]string{}
	}
	f.tags[id] = append([]string(nil), tags...)
	return nil
}

// fakeModel 按 Gate 返回预设输出
type fakeModel struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeModel) Call(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Gate)
	if err := f.errs[req.Gate]; err != nil {
		return "", err
	}
	resp, ok := f.responses[req.Gate]
	if !ok {
		return "", errors.New("no response for gate " + req.Gate)
	}
	return resp, nil
}

func (f *fakeModel) called(gate string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.calls {
		if g == gate {
			n++
		}
	}
	return n
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeImageEmbedder struct {
	err error
}

func (f *fakeImageEmbedder) EmbedImage(ctx context.Context, ref string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float64{0.5, 0.5}, nil
}

type fakeIndex struct {
	hits    []Hit
	err     error
	filters []map[string]any
	mu      sync.Mutex
}

func (f *fakeIndex) Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]Hit, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > topK {
		return append([]Hit(nil), f.hits[:topK]...), nil
	}
	return append([]Hit(nil), f.hits...), nil
}

type fakeCustomers struct {
	profile CustomerProfile
	err     error
}

func (f *fakeCustomers) Resolve(ctx context.Context, email string, tags []string) (CustomerProfile, error) {
	return f.profile, f.err
}

type fakeRules map[CustomerType]map[string]any

func (f fakeRules) RulesFor(ct CustomerType) map[string]any {
	return f[ct]
}

type fakeAudit struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (f *fakeAudit) Append(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeShipper struct {
	mu      sync.Mutex
	shipped []Record
	err     error
}

func (f *fakeShipper) Ship(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipped = append(f.shipped, rec)
	return f.err
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func goodResponses() map[string]string {
	return map[string]string{
		NodeClassify:      `{"category": "warranty", "confidence": 0.92, "reasoning": "mentions warranty"}`,
		NodeOrchestration: "```json\n{\"summary\": \"leaking faucet\", \"product_id\": \"FL-100\", \"reasoning\": \"manual found\", \"enough_information\": true}\n```",
		NodeHallucination: `{"risk": 0.15}`,
		NodeConfidence:    `{"confidence": 0.88}`,
		NodeVIPCompliance: `{"vip_compliant": true, "reason": "within rules"}`,
		NodeDraft:         "Hi Jane, based on the product documentation the cartridge can be replaced under warranty.",
	}
}

type harness struct {
	tickets   *fakeTickets
	sink      *fakeSink
	model     *fakeModel
	docs      *fakeIndex
	images    *fakeIndex
	past      *fakeIndex
	customers *fakeCustomers
	rules     fakeRules
	audit     *fakeAudit
	shipper   *fakeShipper
}

func newHarness(t Ticket) *harness {
	return &harness{
		tickets: &fakeTickets{tickets: map[string]Ticket{t.ID: t}},
		sink:    &fakeSink{},
		model:   &fakeModel{responses: goodResponses()},
		docs: &fakeIndex{hits: []Hit{
			{ID: "doc-1", Score: 0.91, Metadata: map[string]any{"title": "FL-100 Manual"}, Content: "Replace the cartridge"},
			{ID: "doc-2", Score: 0.72, Metadata: map[string]any{"title": "Warranty Policy"}, Content: "Lifetime warranty"},
		}},
		images: &fakeIndex{hits: []Hit{
			{ID: "img-1", Score: 0.81, Metadata: map[string]any{"product_title": "Faucet", "model_no": "FL-100", "finish": "Chrome"}},
		}},
		past: &fakeIndex{hits: []Hit{
			{ID: "t-9", Score: 0.77, Metadata: map[string]any{"ticket_id": "9", "resolution_type": "replacement"}, Content: "Sent new cartridge"},
		}},
		customers: &fakeCustomers{profile: CustomerProfile{Type: CustomerNormal, Reason: "default"}},
		rules:     fakeRules{},
		audit:     &fakeAudit{},
		shipper:   &fakeShipper{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Tickets:       h.tickets,
		Sink:          h.sink,
		Model:         h.model,
		TextEmbedder:  &fakeEmbedder{},
		ImageEmbedder: &fakeImageEmbedder{},
		ImageIndex:    h.images,
		DocIndex:      h.docs,
		TicketIndex:   h.past,
		Customers:     h.customers,
		Rules:         h.rules,
		Audit:         h.audit,
		Shipper:       h.shipper,
		Logger:        discardLogger(),
		Now:           func() time.Time { return fixedNow },
	}
}

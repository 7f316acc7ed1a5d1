package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

// MemoryHistory keeps terminal call records in memory, for tests and
// clients running without a relay history endpoint.
type MemoryHistory struct {
	mu   sync.Mutex
	recs []domain.HistoryRecord
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Record(_ context.Context, rec domain.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

func (h *MemoryHistory) Records() []domain.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.HistoryRecord, len(h.recs))
	copy(out, h.recs)
	return out
}

// HTTPHistory posts terminal records to the relay's history API. The
// core dispatches records asynchronously, so a slow or absent relay
// never blocks a call teardown.
type HTTPHistory struct {
	endpoint string
	client   *http.Client
}

var _ core.HistorySink = (*HTTPHistory)(nil)
var _ core.HistorySink = (*MemoryHistory)(nil)

func NewHTTPHistory(endpoint string, client *http.Client) *HTTPHistory {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPHistory{endpoint: endpoint, client: client}
}

func (h *HTTPHistory) Record(ctx context.Context, rec domain.HistoryRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("history endpoint returned %d", resp.StatusCode)
	}
	return nil
}

package relay

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/petmatch/pawcall/internal/domain"
)

const historyPageLimit = 100

// HistoryStore keeps terminal call records reported by clients. The
// persistence backend behind it is out of scope here; the store is the
// relay-side ingest point.
type HistoryStore struct {
	mu   sync.Mutex
	recs []domain.HistoryRecord
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

func (h *HistoryStore) Add(rec domain.HistoryRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
}

// ByPeer returns records involving the given peer, newest first.
func (h *HistoryStore) ByPeer(peer domain.UserID, limit int) []domain.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > historyPageLimit {
		limit = historyPageLimit
	}
	out := make([]domain.HistoryRecord, 0, limit)
	for i := len(h.recs) - 1; i >= 0 && len(out) < limit; i-- {
		if peer == "" || h.recs[i].PeerID == peer {
			out = append(out, h.recs[i])
		}
	}
	return out
}

func (r *Relay) postHistory(c *gin.Context) {
	var rec domain.HistoryRecord
	if err := c.ShouldBindJSON(&rec); err != nil || rec.CallID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid call record"})
		return
	}
	r.history.Add(rec)
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

func (r *Relay) listHistory(c *gin.Context) {
	peer := domain.UserID(c.Query("peer"))
	recs := r.history.ByPeer(peer, historyPageLimit)
	c.JSON(http.StatusOK, gin.H{"calls": recs, "count": len(recs)})
}

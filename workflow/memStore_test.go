package workflow

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// memStore mirrors CollectionRepository in memory, including the guarded
// status update.
type memStore struct {
	mu          sync.Mutex
	nextId      int
	rows        map[int]*models.Collection
	requestKeys map[string]int
	histories   []*models.CollectionHistory
	saves       int

	failOn       map[int]error
	beforeUpdate func(id int)
	beforeCreate func()
}

func newMemStore() *memStore {
	return &memStore{
		rows:        map[int]*models.Collection{},
		requestKeys: map[string]int{},
		failOn:      map[int]error{},
	}
}

func (s *memStore) seed(status models.CollectionStatus, amount string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	c := &models.Collection{
		ID:          s.nextId,
		MachineId:   100 + s.nextId,
		OperatorId:  1,
		CollectedAt: time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC),
		Status:      status,
		Source:      models.CollectionSourceRealtime,
	}
	if amount != "" {
		c.Amount = decimal.NewNullDecimal(decimal.RequireFromString(amount))
	}
	s.rows[c.ID] = c
	return c.ID
}

func (s *memStore) CreateCollection(ctx context.Context, collection *models.Collection, requestKey string, histories []*models.CollectionHistory) error {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if requestKey != "" {
		if _, taken := s.requestKeys[requestKey]; taken {
			return utils.NewStoreError("create collection", models.ErrDuplicateRequestKey)
		}
	}
	s.nextId++
	if requestKey != "" {
		s.requestKeys[requestKey] = s.nextId
	}
	collection.ID = s.nextId
	copied := *collection
	s.rows[collection.ID] = &copied
	for _, h := range histories {
		h.CollectionId = collection.ID
		s.histories = append(s.histories, h)
	}
	return nil
}

func (s *memStore) FindCollectionByRequestKey(ctx context.Context, key string) (*models.Collection, error) {
	s.mu.Lock()
	id, ok := s.requestKeys[key]
	s.mu.Unlock()
	if !ok {
		return nil, utils.NewNotFoundError("no collection for request key %q", key)
	}
	return s.GetCollection(ctx, id)
}

func (s *memStore) GetCollection(ctx context.Context, id int) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return nil, utils.NewNotFoundError("collection %d not found", id)
	}
	copied := *c
	return &copied, nil
}

func (s *memStore) FindCollections(ctx context.Context, filter models.CollectionFilter, limit int, offset int) ([]*models.Collection, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.Collection
	for _, id := range s.sortedIds() {
		if filter.Matches(s.rows[id]) {
			copied := *s.rows[id]
			matched = append(matched, &copied)
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []*models.Collection{}, total, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], total, nil
}

func (s *memStore) FindCancellableIds(ctx context.Context, filter models.CollectionFilter) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for _, id := range s.sortedIds() {
		c := s.rows[id]
		if c.Status != models.CollectionStatusCancelled && filter.Matches(c) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) SaveTransition(ctx context.Context, id int, fromStatus models.CollectionStatus, updates map[string]interface{}, histories []*models.CollectionHistory) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[id]; err != nil {
		return err
	}
	c, ok := s.rows[id]
	if !ok || c.Status != fromStatus {
		return utils.NewInvalidStateError("collection %d is no longer %s", id, fromStatus)
	}
	for field, v := range updates {
		switch field {
		case "status":
			c.Status = v.(models.CollectionStatus)
		case "amount":
			c.Amount = v.(decimal.NullDecimal)
		case "received_at":
			t := v.(time.Time)
			c.ReceivedAt = &t
		case "manager_id":
			m := v.(int)
			c.ManagerId = &m
		case "notes":
			c.Notes = v.(string)
		}
	}
	s.saves++
	s.histories = append(s.histories, histories...)
	return nil
}

func (s *memStore) GetCollectionHistories(ctx context.Context, collectionId int) ([]*models.CollectionHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CollectionHistory
	for _, h := range s.histories {
		if h.CollectionId == collectionId {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memStore) sortedIds() []int {
	ids := make([]int, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func testLimits() CollectionLimits {
	return CollectionLimits{
		MaxAmount:       decimal.NewFromInt(100000000),
		ReasonMaxLength: 500,
		NotesMaxLength:  1000,
	}
}

func newTestWorkflow(store *memStore) *CollectionWorkflow {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	w := NewCollectionWorkflow(store, testLimits(), logger)
	w.now = func() time.Time { return time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC) }
	return w
}

func managerCtx() context.Context {
	return utils.SetIdentityInContext(context.Background(), 9, "Dilnoza", utils.RoleManager)
}

func adminCtx() context.Context {
	return utils.SetIdentityInContext(context.Background(), 1, "Admin", utils.RoleAdmin)
}

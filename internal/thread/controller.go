// Package thread keeps one conversation's message list in sync with the
// realtime store: it pages history backwards on demand and merges live
// arrivals at the head.
package thread

import (
	"context"
	"sync"
	"time"

	"chatthread/internal/constants"
	"chatthread/internal/errors"
	"chatthread/internal/metrics"
	"chatthread/internal/models"
	"chatthread/internal/observable"
	"chatthread/internal/room"
	"chatthread/internal/tracing"
	"chatthread/pkg/backend"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// Options configures a Controller.
type Options struct {
	MyID     int
	FriendID int
	// PageSize is the number of records fetched per history page.
	PageSize int
	// Cursor is a cursor restored from a previous run, if any.
	Cursor  *models.Cursor
	Logger  *logrus.Logger
	Metrics *metrics.Registry
	Clock   func() time.Time
}

// Controller owns the message list of one conversation. The list is ordered
// newest first. All state changes happen under mu; backend reads run on their
// own goroutines and their results are applied under the same lock.
type Controller struct {
	client   backend.Client
	logger   *errors.Logger
	metrics  *metrics.Registry
	clock    func() time.Time
	myID     int
	roomID   string
	path     string
	pageSize int

	messages  *observable.State[[]models.Message]
	isLoading *observable.State[bool]

	mu          sync.Mutex
	cursor      models.Cursor
	loaded      bool
	subscribing bool
	sub         backend.Subscription
	closed      bool

	inflight sync.WaitGroup
}

// New builds a controller for the conversation between opts.MyID and
// opts.FriendID. Nothing is read until Initialize is called.
func New(client backend.Client, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = constants.DefaultPageSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.GetRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	roomID := room.ID(opts.MyID, opts.FriendID)
	c := &Controller{
		client:    client,
		logger:    errors.WrapLogger(opts.Logger),
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		myID:      opts.MyID,
		roomID:    roomID,
		path:      room.Path(roomID),
		pageSize:  opts.PageSize,
		messages:  observable.NewState([]models.Message{}),
		isLoading: observable.NewState(false),
	}
	if opts.Cursor != nil {
		c.cursor = *opts.Cursor
	}
	return c
}

// MyID returns the ID of the local participant.
func (c *Controller) MyID() int {
	return c.myID
}

// RoomID returns the conversation's room ID.
func (c *Controller) RoomID() string {
	return c.roomID
}

// Messages exposes the message list, newest first. Published slices are never
// modified after they are handed out.
func (c *Controller) Messages() observable.Readable[[]models.Message] {
	return c.messages
}

// IsLoading exposes whether a history read is in flight.
func (c *Controller) IsLoading() observable.Readable[bool] {
	return c.isLoading
}

// Cursor returns the current pagination cursor.
func (c *Controller) Cursor() models.Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Initialize loads the newest page and then attaches the live stream. It does
// nothing while a read is in flight, once the stream is attached, or after
// Teardown. A failed read may be retried by calling Initialize again.
func (c *Controller) Initialize(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.isLoading.Get() || c.subscribing || c.sub != nil {
		return
	}
	c.isLoading.Set(true)
	c.fetch(ctx, "", c.completeInitial)
}

// LoadMore fetches the page of history older than the cursor's end key. It
// does nothing until Initialize has applied the newest page, and nothing when
// the history is exhausted or a read is already in flight.
func (c *Controller) LoadMore(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.loaded || !c.cursor.HasNextPage || c.isLoading.Get() {
		return
	}
	c.isLoading.Set(true)
	c.fetch(ctx, c.cursor.EndKey, c.completeOlder)
}

// SendMessage writes a message from the local participant. The message shows
// up in the list only once the live stream delivers it back.
func (c *Controller) SendMessage(ctx context.Context, text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	key, err := c.client.GenerateKey(c.path)
	if err != nil {
		c.inflight.Done()
		c.logger.LogDebug(errors.NewKeyGenerationError(c.path, err), "Dropping message without a key",
			logrus.Fields{"room_id": c.roomID})
		c.metrics.IncrementCounter(metrics.SendsDropped, nil, "Messages dropped before writing")
		return
	}

	msg := models.NewMessage(c.myID, text, c.clock().UnixMilli())
	value, err := msg.Encode()
	if err != nil {
		c.inflight.Done()
		c.logger.LogDebug(err, "Dropping unencodable message", logrus.Fields{"room_id": c.roomID, "key": key})
		c.metrics.IncrementCounter(metrics.SendsDropped, nil, "Messages dropped before writing")
		return
	}

	writeCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.inflight.Done()
		if err := c.client.Write(writeCtx, c.path, key, value); err != nil {
			c.logger.LogWarn(errors.NewWriteError(c.path, key, err), "Failed to write message",
				logrus.Fields{"room_id": c.roomID})
			return
		}
		c.metrics.IncrementCounter(metrics.SendsWritten, nil, "Messages written to the store")
	}()
}

// Teardown detaches the live stream. It is safe to call at any time and more
// than once; reads still in flight are discarded when they complete.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Wait blocks until reads, writes and subscription attempts started so far
// have finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// fetch starts a page read; it must be called with mu held.
func (c *Controller) fetch(ctx context.Context, endBefore string, complete func(context.Context, []backend.Child, error)) {
	readCtx := context.WithoutCancel(ctx)
	q := backend.RangeQuery{Path: c.path, EndBefore: endBefore, Limit: c.pageSize}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		spanCtx, span := tracing.StartSpan(readCtx, "thread.read_page",
			tracing.AttrRoomID.String(c.roomID),
			tracing.AttrPath.String(q.Path),
			tracing.AttrEndBefore.String(q.EndBefore),
			tracing.AttrPageSize.Int(q.Limit),
		)
		defer span.End()

		start := time.Now()
		children, err := c.client.ReadRange(spanCtx, q)
		c.metrics.RecordTimer(metrics.PageReadDuration, time.Since(start), nil, "History page read latency")
		if err != nil {
			tracing.RecordError(spanCtx, err)
		} else {
			tracing.AddSpanAttributes(spanCtx, tracing.AttrRecords.Int(len(children)))
			tracing.SetSpanStatus(spanCtx, codes.Ok, "")
		}

		complete(spanCtx, children, err)
	}()
}

func (c *Controller) completeInitial(ctx context.Context, children []backend.Child, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.isLoading.Set(false)

	if err != nil {
		c.mu.Unlock()
		c.readFailed(err, "")
		return
	}

	page := c.decodePage(children)
	c.messages.Set(page)
	c.cursor = c.nextCursor(children, len(page))
	c.loaded = true
	hasNextPage := c.cursor.HasNextPage

	startAfter := ""
	if len(children) > 0 {
		startAfter = children[len(children)-1].Key
	}
	c.subscribing = true
	c.inflight.Add(1)
	c.mu.Unlock()

	c.metrics.IncrementCounter(metrics.PagesLoaded, nil, "History pages applied")
	c.logger.WithContext(logrus.Fields{
		"room_id":       c.roomID,
		"records":       len(children),
		"has_next_page": hasNextPage,
	}).Debug("Loaded newest page")

	go c.subscribe(ctx, startAfter)
}

func (c *Controller) completeOlder(_ context.Context, children []backend.Child, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.isLoading.Set(false)

	if err != nil {
		c.readFailed(err, c.cursor.EndKey)
		return
	}

	page := c.decodePage(children)
	c.messages.Update(func(current []models.Message) []models.Message {
		merged := make([]models.Message, 0, len(current)+len(page))
		merged = append(merged, current...)
		return append(merged, page...)
	})
	c.cursor = c.nextCursor(children, len(page))
	c.metrics.IncrementCounter(metrics.PagesLoaded, nil, "History pages applied")
}

func (c *Controller) subscribe(ctx context.Context, startAfter string) {
	defer c.inflight.Done()

	sub, err := c.client.SubscribeChildAdded(ctx, c.path, startAfter, c.onChildAdded)

	c.mu.Lock()
	c.subscribing = false
	if err != nil {
		c.mu.Unlock()
		c.logger.LogWarn(errors.NewSubscriptionError(c.path, startAfter, err), "Live stream unavailable",
			logrus.Fields{"room_id": c.roomID})
		c.metrics.IncrementCounter(metrics.SubscriptionFailures, nil, "Live streams that failed to attach")
		return
	}
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.sub = sub
	c.mu.Unlock()
}

func (c *Controller) onChildAdded(child backend.Child) {
	msg, err := models.DecodeMessage(child.Value)
	if err != nil {
		c.dropRecord(child.Key, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.messages.Update(func(current []models.Message) []models.Message {
		merged := make([]models.Message, 0, len(current)+1)
		merged = append(merged, msg)
		return append(merged, current...)
	})
	c.metrics.IncrementCounter(metrics.LiveMessages, nil, "Messages received on the live stream")
}

// decodePage converts an ascending page into newest-first messages, skipping
// records that do not decode.
func (c *Controller) decodePage(children []backend.Child) []models.Message {
	page := make([]models.Message, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		msg, err := models.DecodeMessage(children[i].Value)
		if err != nil {
			c.dropRecord(children[i].Key, err)
			continue
		}
		page = append(page, msg)
	}
	return page
}

// nextCursor derives the cursor from page fullness only, so a history whose
// length is a multiple of the page size costs one extra empty read.
func (c *Controller) nextCursor(children []backend.Child, decoded int) models.Cursor {
	if decoded >= c.pageSize && len(children) > 0 {
		return models.NextPageBefore(children[0].Key)
	}
	return models.Exhausted()
}

func (c *Controller) readFailed(err error, endBefore string) {
	c.logger.LogRetryableError(errors.NewReadError(c.path, err), "Failed to read history page",
		logrus.Fields{"room_id": c.roomID, "end_before": endBefore, "page_size": c.pageSize})
	c.metrics.IncrementCounter(metrics.PageReadFailures, nil, "History page reads that failed")
}

func (c *Controller) dropRecord(key string, err error) {
	c.logger.LogDebug(errors.NewDecodeError(key, err), "Skipping undecodable record",
		logrus.Fields{"room_id": c.roomID})
	c.metrics.IncrementCounter(metrics.RecordsDropped, nil, "Records skipped because they did not decode")
}

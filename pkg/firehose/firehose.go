// Package firehose mirrors BookHive records from the Jetstream event stream
// into the local database.
package firehose

import (
	"context"
	"database/sql"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/lexicon"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	cursorSaveInterval = 5 * time.Second
	// cursorRewind replays a little history on resume. Replayed events are
	// dropped by the CID check.
	cursorRewind = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// Event is one Jetstream message.
type Event struct {
	DID    string  `json:"did"`
	TimeUS int64   `json:"time_us"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

// BookSink receives book records.
type BookSink interface {
	Mirror(ctx context.Context, ub *models.UserBook) error
	DeleteByURI(ctx context.Context, uri string) error
}

// BuzzSink receives buzz records.
type BuzzSink interface {
	IngestRecord(ctx context.Context, uri, cid, did string, record *lexicon.BuzzRecord) error
	DeleteByURI(ctx context.Context, uri string) error
}

type Consumer struct {
	db             *bun.DB
	endpoint       string
	reconnectDelay time.Duration
	books          BookSink
	buzzes         BuzzSink
	dialer         *websocket.Dialer

	mu        sync.Mutex
	cursor    int64
	savedAt   time.Time
	processed int
}

func NewConsumer(db *bun.DB, endpoint string, reconnectDelay time.Duration, books BookSink, buzzes BuzzSink) *Consumer {
	return &Consumer{
		db:             db,
		endpoint:       endpoint,
		reconnectDelay: reconnectDelay,
		books:          books,
		buzzes:         buzzes,
		dialer:         websocket.DefaultDialer,
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting after
// reconnectDelay whenever the connection fails. Cancellation is a clean
// stop and returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	cursor, err := c.loadCursor(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cursor = cursor
	c.mu.Unlock()

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.saveCursor(context.WithoutCancel(ctx))
			log.Info("firehose stopped")
			return nil
		}
		log.Err(err).Warn("firehose disconnected", logger.Data{"retry_in": c.reconnectDelay.String()})

		select {
		case <-ctx.Done():
			c.saveCursor(context.WithoutCancel(ctx))
			log.Info("firehose stopped")
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Consumer) subscribeURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", errors.WithStack(err)
	}
	q := u.Query()
	q.Add("wantedCollections", lexicon.NSIDBook)
	q.Add("wantedCollections", lexicon.NSIDBuzz)
	c.mu.Lock()
	if c.cursor > 0 {
		q.Set("cursor", strconv.FormatInt(c.cursor-cursorRewind.Microseconds(), 10))
	}
	c.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Consumer) consume(ctx context.Context) error {
	target, err := c.subscribeURL()
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial jetstream")
	}
	defer conn.Close()
	logger.FromContext(ctx).Info("firehose connected", logger.Data{"url": target})

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.WithStack(err)
		}
		c.HandleMessage(ctx, msg)
		c.maybeSaveCursor(ctx)
	}
}

// HandleMessage applies one raw stream message. Bad events are logged and
// skipped; they never stop the stream.
func (c *Consumer) HandleMessage(ctx context.Context, msg []byte) {
	log := logger.FromContext(ctx)

	ev := &Event{}
	if err := json.Unmarshal(msg, ev); err != nil {
		log.Err(err).Warn("undecodable firehose event")
		return
	}
	if ev.TimeUS > 0 {
		c.mu.Lock()
		c.cursor = ev.TimeUS
		c.processed++
		c.mu.Unlock()
	}
	if ev.Kind != "commit" || ev.Commit == nil {
		return
	}

	if err := c.apply(ctx, ev); err != nil {
		log.Err(err).Warn("failed to apply firehose event", logger.Data{
			"did":        ev.DID,
			"collection": ev.Commit.Collection,
			"rkey":       ev.Commit.RKey,
			"operation":  ev.Commit.Operation,
		})
	}
}

func (c *Consumer) apply(ctx context.Context, ev *Event) error {
	cm := ev.Commit
	uri := atproto.URI{DID: ev.DID, Collection: cm.Collection, RKey: cm.RKey}.String()
	if _, err := atproto.ParseURI(uri); err != nil {
		return err
	}

	var table string
	switch cm.Collection {
	case lexicon.NSIDBook:
		table = "user_book"
	case lexicon.NSIDBuzz:
		table = "buzz"
	default:
		return nil
	}

	switch cm.Operation {
	case "delete":
		if cm.Collection == lexicon.NSIDBook {
			return c.books.DeleteByURI(ctx, uri)
		}
		return c.buzzes.DeleteByURI(ctx, uri)
	case "create", "update":
	default:
		return errors.Errorf("unknown operation %q", cm.Operation)
	}

	seen, err := c.hasCID(ctx, table, uri, cm.CID)
	if err != nil || seen {
		return err
	}

	if cm.Collection == lexicon.NSIDBook {
		record, err := lexicon.DecodeBookRecord(cm.Record)
		if err != nil {
			return err
		}
		return c.books.Mirror(ctx, record.ToUserBook(uri, cm.CID, ev.DID))
	}
	record, err := lexicon.DecodeBuzzRecord(cm.Record)
	if err != nil {
		return err
	}
	return c.buzzes.IngestRecord(ctx, uri, cm.CID, ev.DID, record)
}

// hasCID reports whether the mirror already holds this exact record
// version. Writes made through BookHive arrive here a second time.
func (c *Consumer) hasCID(ctx context.Context, table, uri, cid string) (bool, error) {
	if cid == "" {
		return false, nil
	}
	exists, err := c.db.NewSelect().
		TableExpr(table).
		Where("uri = ?", uri).
		Where("cid = ?", cid).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

func (c *Consumer) loadCursor(ctx context.Context) (int64, error) {
	fc := &models.FirehoseCursor{}
	err := c.db.NewSelect().Model(fc).Where("fc.id = 1").Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return fc.TimeUS, nil
}

func (c *Consumer) maybeSaveCursor(ctx context.Context) {
	c.mu.Lock()
	due := time.Since(c.savedAt) >= cursorSaveInterval
	c.mu.Unlock()
	if due {
		c.saveCursor(ctx)
	}
}

func (c *Consumer) saveCursor(ctx context.Context) {
	c.mu.Lock()
	cursor := c.cursor
	c.savedAt = time.Now()
	c.mu.Unlock()
	if cursor == 0 {
		return
	}

	_, err := c.db.NewInsert().
		Model(&models.FirehoseCursor{ID: 1, TimeUS: cursor, UpdatedAt: time.Now()}).
		On("CONFLICT (id) DO UPDATE").
		Set("time_us = EXCLUDED.time_us").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("failed to save firehose cursor")
	}
}

// Cursor is the time_us of the last event seen.
func (c *Consumer) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

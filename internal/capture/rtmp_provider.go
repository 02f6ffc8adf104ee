package capture

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
	"golang.org/x/crypto/bcrypt"

	"screenreel/internal/session"
)

// RTMPProvider is the production StreamProvider: capture agents publish the
// live screen feed over RTMP with a publishing name of the form
// "<kind>:<publish key>". Acquire hands the next matching publisher to the
// recorder host as a CaptureStream.
type RTMPProvider struct {
	port    string
	keyHash []byte // bcrypt hash of the publish key; empty disables auth

	mu      sync.Mutex
	started bool
	server  *rtmp.Server
	waiters []*streamWaiter
}

type streamWaiter struct {
	kinds  []session.SourceKind
	result chan *rtmpStream
}

// NewRTMPProvider listens on port. publishKeyHash is the bcrypt hash agents
// must match; pass empty to accept any key.
func NewRTMPProvider(port string, publishKeyHash string) *RTMPProvider {
	return &RTMPProvider{port: port, keyHash: []byte(publishKeyHash)}
}

// Start begins serving RTMP. It blocks; run it in its own goroutine.
func (p *RTMPProvider) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", p.port))
	if err != nil {
		return errors.Wrap(err, "rtmp listen")
	}

	config := &rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			handler := &rtmpIngestHandler{provider: p, conn: conn}
			return conn, &rtmp.ConnConfig{Handler: handler}
		},
	}

	p.mu.Lock()
	p.server = rtmp.NewServer(config)
	p.started = true
	server := p.server
	p.mu.Unlock()

	log.Printf("RTMP: ingest listening on %s", listener.Addr())
	return server.Serve(listener)
}

// Acquire implements StreamProvider: it waits for the next publisher whose
// declared kind matches the request. Context cancellation maps to the user
// declining source selection.
func (p *RTMPProvider) Acquire(ctx context.Context, req session.StreamRequest) (CaptureStream, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrCaptureUnavailable
	}
	w := &streamWaiter{kinds: req.Kinds, result: make(chan *rtmpStream, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.removeWaiter(w)
		return nil, errors.Wrap(ErrAcquisitionCancelled, ctx.Err().Error())
	case stream := <-w.result:
		return stream, nil
	}
}

func (p *RTMPProvider) removeWaiter(w *streamWaiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.waiters {
		if cur == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// claimWaiter pops the oldest waiter accepting the given kind.
func (p *RTMPProvider) claimWaiter(kind session.SourceKind) *streamWaiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		for _, k := range w.kinds {
			if k == kind {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				return w
			}
		}
	}
	return nil
}

func (p *RTMPProvider) checkKey(key string) error {
	if len(p.keyHash) == 0 {
		return nil
	}
	return bcrypt.CompareHashAndPassword(p.keyHash, []byte(key))
}

// rtmpIngestHandler adapts one publishing connection into a CaptureStream.
type rtmpIngestHandler struct {
	rtmp.DefaultHandler
	provider *RTMPProvider
	conn     net.Conn
	stream   *rtmpStream
}

// OnPublish validates the publishing name ("<kind>:<key>") and hands the
// connection to a pending acquisition.
func (h *rtmpIngestHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	name := cmd.PublishingName
	log.Printf("RTMP: publish request %q", name)

	kindStr, key, found := strings.Cut(name, ":")
	if !found || kindStr == "" {
		return errors.New("rtmp: publishing name must be <kind>:<key>")
	}
	kind := session.SourceKind(kindStr)

	if err := h.provider.checkKey(key); err != nil {
		return errors.New("rtmp: invalid publish key")
	}

	w := h.provider.claimWaiter(kind)
	if w == nil {
		return errors.New("rtmp: no pending acquisition for this source kind")
	}

	h.stream = newRTMPStream(kind)
	w.result <- h.stream
	log.Printf("RTMP: publisher accepted for %s stream %s", kind, h.stream.id)
	return nil
}

// OnVideo decodes the FLV video tag so keyframes are flagged for the
// preview surface, then pushes the payload as a sample.
func (h *rtmpIngestHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	if h.stream == nil {
		return nil // not publishing yet
	}

	var video flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &video); err != nil {
		return errors.Wrap(err, "rtmp: decode video tag")
	}
	data, err := io.ReadAll(video.Data)
	if err != nil {
		return err
	}

	h.stream.push(Sample{
		Data:      data,
		Timestamp: time.Duration(timestamp) * time.Millisecond,
		Keyframe:  video.FrameType == flvtag.FrameTypeKeyFrame,
	})
	return nil
}

// OnAudio drops audio payloads when the stream was acquired without audio.
func (h *rtmpIngestHandler) OnAudio(_ uint32, payload io.Reader) error {
	if h.stream == nil {
		return nil
	}
	// Audio is carried inside the same segment stream; discard for now.
	_, err := io.Copy(io.Discard, payload)
	return err
}

func (h *rtmpIngestHandler) OnClose() {
	if h.stream != nil {
		log.Printf("RTMP: publisher for stream %s disconnected", h.stream.id)
		h.stream.endExternally()
	}
}

// rtmpStream is the CaptureStream backed by one publishing connection.
type rtmpStream struct {
	id      string
	kind    session.SourceKind
	samples chan Sample

	mu     sync.Mutex
	closed bool
	err    error
}

func newRTMPStream(kind session.SourceKind) *rtmpStream {
	return &rtmpStream{
		id:      uuid.NewString(),
		kind:    kind,
		samples: make(chan Sample, 256),
	}
}

// ID implements CaptureStream.
func (s *rtmpStream) ID() string { return s.id }

// Samples implements CaptureStream.
func (s *rtmpStream) Samples() <-chan Sample { return s.samples }

// Err implements CaptureStream.
func (s *rtmpStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements CaptureStream: the consumer is done with the stream.
func (s *rtmpStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.samples)
	return nil
}

// endExternally marks the source revoked (publisher vanished) and closes
// the sample channel, which the recorder host observes as source-ended.
func (s *rtmpStream) endExternally() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = ErrStreamEnded
	close(s.samples)
}

// push delivers a sample, dropping when the consumer is backed up. A live
// capture must never block the ingest loop.
func (s *rtmpStream) push(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.samples <- sample:
	default:
		log.Printf("RTMP: dropping sample on stream %s, consumer backed up", s.id)
	}
}

// Package remote streams audio to a wake word service over a websocket and
// reports detections as they happen.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kvasirvoice/kvasir-core/core/audio"
	"github.com/kvasirvoice/kvasir-core/core/wake"
)

type DetectionClient struct {
	serviceURL string

	conn      *websocket.Conn
	connMu    sync.Mutex
	lastMsgTs time.Time
}

// NewDetectionClient creates a client for a wake word service reachable at
// serviceURL (ws:// or wss://).
func NewDetectionClient(serviceURL string) (*DetectionClient, error) {
	parsed, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid wake service url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("wake service url must use ws or wss scheme, got %q", parsed.Scheme)
	}

	return &DetectionClient{serviceURL: serviceURL}, nil
}

// Detect opens the stream and starts reporting detections through the
// callback until ctx is cancelled or the connection closes. Audio is fed
// separately through SendAudio.
func (c *DetectionClient) Detect(ctx context.Context, opts ...wake.DetectionOption) error {
	options := &wake.DetectionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	conn, err := c.connectWebsocket(*options)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	go c.readAndProcessMessages(ctx, conn, *options)

	return nil
}

func (c *DetectionClient) connectWebsocket(options wake.DetectionOptions) (*websocket.Conn, error) {
	serviceUrl, _ := url.Parse(c.serviceURL)
	queryParams := serviceUrl.Query()
	queryParams.Set("rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	queryParams.Set("width", strconv.Itoa(options.EncodingInfo.Format.ByteSize()))
	queryParams.Set("channels", "1")
	if len(options.Names) > 0 {
		queryParams.Set("names", strings.Join(options.Names, ","))
	}

	serviceUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(serviceUrl.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to wake service: %w", err)
	}

	return conn, nil
}

func (c *DetectionClient) SendAudio(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("wake service connection not open")
	}

	c.lastMsgTs = time.Now()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to wake service: %w", err)
	}
	return nil
}

func (c *DetectionClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close wake service connection: %w", err)
	}
	return nil
}

func (c *DetectionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, options wake.DetectionOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.Println("Failed to read wake service message", "error", err)
				if options.ErrorCallback != nil {
					options.ErrorCallback(err)
				}
			}

			c.connMu.Lock()
			c.conn = nil
			c.connMu.Unlock()
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			c.processMessage(msg, options)
		}
	}
}

func (c *DetectionClient) processMessage(msg []byte, options wake.DetectionOptions) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		log.Println("Failed to unmarshal wake service message", "error", err)
		return
	}

	switch parsedMsg.Type {
	case "detection":
		var detection wake.Detection
		if err := json.Unmarshal(msg, &detection); err != nil {
			log.Println("Failed to unmarshal wake detection", err)
			return
		}

		if options.DetectionCallback != nil {
			options.DetectionCallback(detection)
		}

	case "not-detected":
		// The service gave up (end of stream without a detection); nothing
		// to report, the read loop will see the close next.
	}
}

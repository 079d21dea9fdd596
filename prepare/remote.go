package prepare

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"go.uber.org/zap"
)

const maxResponseBytes = 32 << 20

// Remote asks a rendering service to prepare the label. The service answers
// either {"data": "<base64 command stream>"} or a PNG preview.
type Remote struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewRemote(url string, client *http.Client, logger *zap.Logger) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{url: url, client: client, logger: logger.Named("prepare")}
}

type remoteResponse struct {
	Data  string `json:"data"`
	Error string `json:"error"`
}

func (r *Remote) Prepare(ctx context.Context, req label.Request, lbl media.Label) (Output, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Output{}, fmt.Errorf("%w: encode request: %w", qlerr.ErrRenderingFailed, err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", qlerr.ErrRenderingFailed, err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json, image/png")

	start := time.Now()
	resp, err := r.client.Do(hreq)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", qlerr.ErrRenderingFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Output{}, fmt.Errorf("%w: read response: %w", qlerr.ErrRenderingFailed, err)
	}
	r.logger.Debug("Remote prepare",
		zap.String("label_size", lbl.ID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(payload)),
		zap.Duration("took", time.Since(start)))

	ctype, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		var rr remoteResponse
		if ctype == "application/json" && json.Unmarshal(payload, &rr) == nil && rr.Error != "" {
			msg = rr.Error
		}
		return Output{}, fmt.Errorf("%w: renderer answered %d: %s", qlerr.ErrRenderingFailed, resp.StatusCode, msg)
	}

	switch ctype {
	case "image/png":
		img, err := png.Decode(bytes.NewReader(payload))
		if err != nil {
			return Output{}, fmt.Errorf("%w: decode preview: %w", qlerr.ErrRenderingFailed, err)
		}
		return Output{Preview: img}, nil

	case "application/json":
		var rr remoteResponse
		if err := json.Unmarshal(payload, &rr); err != nil {
			return Output{}, fmt.Errorf("%w: decode response: %w", qlerr.ErrRenderingFailed, err)
		}
		if rr.Error != "" {
			return Output{}, fmt.Errorf("%w: %s", qlerr.ErrRenderingFailed, rr.Error)
		}
		data, err := base64.StdEncoding.DecodeString(rr.Data)
		if err != nil {
			return Output{}, fmt.Errorf("%w: decode data: %w", qlerr.ErrRenderingFailed, err)
		}
		return Output{Data: data}, nil

	default:
		return Output{}, fmt.Errorf("%w: unexpected content type %q", qlerr.ErrRenderingFailed, ctype)
	}
}

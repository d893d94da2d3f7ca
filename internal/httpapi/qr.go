package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/wapanel/wapanel/internal/device"
)

const qrWait = 30 * time.Second

// pairQR begins a pairing exchange and answers with the QR code as a PNG.
// Scanning happens out of band; pairing progress is visible on the event
// stream as device status changes.
func (s *Server) pairQR(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), qrWait)
	defer cancel()

	events, err := d.Pair(ctx)
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}

	select {
	case evt, ok := <-events:
		if !ok {
			s.fail(w, http.StatusConflict, errors.New("pairing exchange ended without a code"))
			return
		}
		switch evt.Kind {
		case device.PairCode:
			png, err := qrcode.Encode(evt.Code, qrcode.Medium, 512)
			if err != nil {
				s.fail(w, http.StatusInternalServerError, err)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(png)
		case device.PairSuccess:
			s.respond(w, http.StatusOK, map[string]string{"status": "paired"})
		default:
			s.fail(w, http.StatusConflict, errors.New("pairing failed: "+evt.Kind+" "+evt.Error))
		}
	case <-ctx.Done():
		s.fail(w, http.StatusGatewayTimeout, ctx.Err())
	}
}

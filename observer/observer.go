// Package observer tails the venue's websocket ticker stream and surfaces
// markets entering their commit window. It is a read-only operator tool; the
// engine itself never consumes this stream.
package observer

import (
	"time"

	"github.com/edgekit/flock"
	"github.com/edgekit/flock/log"
	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

type Observer struct {
	ws     *websocket.Conn
	config *flock.Config
}

func New(config *flock.Config, wsURL string) (*Observer, error) {
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	return &Observer{ws: ws, config: config}, nil
}

// Watch subscribes to the ticker stream and logs every frame; frames whose
// market is inside the scan window are raised to warning so they stand out.
func (o *Observer) Watch() error {
	data := []map[string]interface{}{
		{"ticket": uuid.NewV4()},
		{"type": "ticker", "isOnlySnapshot": false, "isOnlyRealtime": true},
	}
	if err := o.ws.WriteJSON(data); err != nil {
		return err
	}

	scanWindow := time.Second * o.config.Settlement.ScanWindow

	for {
		var r map[string]interface{}

		if err := o.ws.ReadJSON(&r); err != nil {
			return err
		}

		market, _ := r["market"].(string)
		price, _ := r["price"].(float64)
		expiresAt, _ := r["expires_at"].(float64)

		expiry := time.Unix(int64(expiresAt), 0)
		fields := logrus.Fields{"price": price, "expires-in": time.Until(expiry).Round(time.Second)}

		level := logrus.InfoLevel
		if until := time.Until(expiry); until > 0 && until <= scanWindow {
			level = logrus.WarnLevel
		}

		log.Logger <- log.Log{Msg: market, Fields: fields, Level: level}
	}
}

func (o *Observer) Close() error {
	return o.ws.Close()
}

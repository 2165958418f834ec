package conn

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// NATS connects to a server and opens a JetStream context. The connection
// reconnects forever; the caller drains it on shutdown.
func NATS(url, name string) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logs.Errorf("nats disconnected, err: %+v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logs.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect nats").With("url", url)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, errors.Wrap(err, "open jetstream")
	}
	return nc, js, nil
}

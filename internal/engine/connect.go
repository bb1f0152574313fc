package engine

import (
	"context"

	"sockdrill/internal/template"
	"sockdrill/internal/transport"
)

// connect returns the user's connection for namespace, dialing one if
// none is cached. Dialing the same namespace twice within one Context
// returns the first handle and opens no second connection.
func (e *Engine) connect(ctx context.Context, uc *Context, namespace string) (transport.Conn, error) {
	if conn, ok := uc.sockets[namespace]; ok {
		return conn, nil
	}

	query, err := template.SubstituteMap(e.query, uc.Vars)
	if err != nil {
		return nil, &ConnectionError{Namespace: namespace, Err: err}
	}
	headers, err := template.SubstituteMap(e.headers, uc.Vars)
	if err != nil {
		return nil, &ConnectionError{Namespace: namespace, Err: err}
	}

	conn, err := e.dialer.DialContext(ctx, e.target, namespace, transport.Options{
		Query:   query,
		Headers: headers,
		TLS:     e.tls,
	})
	if err != nil {
		return nil, &ConnectionError{Namespace: namespace, Err: err}
	}

	// Every inbound message on any channel counts, whether or not a
	// step is waiting for it.
	conn.SubscribeAll(func(string, any) {
		uc.receivedMessages.Add(1)
	})

	uc.sockets[namespace] = conn
	e.log.Debug("connected", "namespace", namespace, "user", uc.UID())
	return conn, nil
}

// Package ws carries the runtime RPC protocol over WebSocket.
//
// Conn adapts a gorilla/websocket connection to rpc.Transport, one text
// message per frame. Handler is the worker side: a gin endpoint that upgrades
// each request and serves an rpc.Worker on it. Dial is the client side.
//
// Example Usage:
//
//	router.GET("/worker", ws.NewHandler(engine, logger).HandleConnection)
//
//	conn, err := ws.Dial(ctx, "ws://127.0.0.1:8090/worker", nil)
//	client := rpc.NewClient(conn, logger)
package ws

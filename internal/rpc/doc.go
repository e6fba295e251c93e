// Package rpc runs card sessions in a separate execution context.
//
// A Client and a Worker exchange sonic-encoded frames over a Transport:
//
//	request   {id, type, ...fields}
//	response  {id, ok: true, result} | {id, ok: false, error: {code, message, details?}}
//
// Request types: loadStackBundle, renderCard, eventCard, defineCard,
// defineCardRender, defineCardHandler, disposeSession, health.
//
// The Client correlates responses by id and may be used concurrently. When the
// transport fails, every pending call and every later call is rejected with
// TRANSPORT_ERROR. The Worker handles frames one at a time, so a session
// never runs two invocations at once.
//
// Example Usage:
//
//	clientEnd, workerEnd := rpc.NewPipe()
//	go rpc.NewWorker(engine, workerEnd, logger).Serve(ctx)
//	client := rpc.NewClient(clientEnd, logger)
//	meta, err := client.CreateSession(ctx, "inventory", "s1", source)
package rpc

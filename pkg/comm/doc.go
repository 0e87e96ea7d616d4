// Package comm is the communication handler between an encoding agent and
// an OMA DRM server.
//
// Callers queue ROAP requests on a Handler. A single delivery worker pops
// them in FIFO order and passes each to Dispatch, which routes requests to
// the server and responses to the agent. By default a server response is
// pushed back onto the same queue so that the agent receives it on a later
// iteration:
//
//	shared := comm.NewSharedServer(comm.FileServerFactory(path), nil)
//	h, err := comm.New(ctx, shared)
//	if err != nil {
//	    return err
//	}
//	if err := h.Run(agent); err != nil {
//	    return err
//	}
//	defer h.Close(ctx)
//
//	err = h.SendAddContentKeyRequest(ctx, roap.NewAddContentKeyRequest(contentID, key))
//
// WithTransport sends server responses to a remote peer instead, and pumps
// inbound messages into the queue when the transport can also receive.
package comm

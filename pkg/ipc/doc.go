/*
Package ipc implements the command channel between the API tier and the master.

Requests are {command, args} objects and replies are {status, answer} objects,
carried as google.protobuf.Struct values over a single unary gRPC method
(/zoe.ipc.Master/Ask). The command set is closed: arguments are decoded into
typed structs with mapstructure before they reach the engine.

	client, _ := ipc.NewClient("127.0.0.1:8723", 5*time.Second)
	ok, msg := client.ExecutionStart(ctx, id)

A reply with status "error" is logged by the client and yields a nil answer.
A master that does not answer in time surfaces as types.ErrMasterUnavailable.
*/
package ipc

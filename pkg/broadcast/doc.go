// Package broadcast provides a small, type-safe publish/subscribe primitive
// used to fan out identity lifecycle notifications to interested consumers.
//
// Delivery is best-effort: each subscriber owns a buffered channel, and a
// publish never blocks — when a subscriber's buffer is full the message is
// dropped for that subscriber. No ordering is guaranteed across subscribers.
//
//	bus := broadcast.NewBus[string](16)
//	sub := bus.Subscribe(ctx)
//	defer sub.Close()
//
//	go bus.Publish(ctx, "hello")
//	msg := <-sub.C()
package broadcast

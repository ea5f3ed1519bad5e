// Package bus routes published events to the live stream sessions of a
// subscriber identity.
//
// The bus never creates or destroys sessions. Sessions register themselves
// when they open and deregister when they close; producers only call
// Publish. An identity may hold several sessions at once (one per browser
// tab, say) and every one of them receives each event.
//
// Delivery is best-effort: publishing to an identity with no live session
// succeeds and reaches nobody.
package bus

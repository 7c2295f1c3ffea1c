// Package activation drives the challenge-response handshake that binds
// this device's serial number to a user account on the activation server.
//
// One run walks Idle → Preparing → Polling and terminates in exactly one
// of Activated, Failed, or Cancelled. Polling is bounded (60 attempts at a
// fixed 5 second interval) and strictly sequential; cancellation is
// cooperative and observed at the suspension points only: the
// inter-attempt sleep and the outstanding HTTP request.
package activation

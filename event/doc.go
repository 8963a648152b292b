// Package event holds the event model: the closed set of statuses an event can
// be in, the event record itself and the change notifications handed out when
// a status is committed.
package event

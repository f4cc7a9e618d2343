// Package server provides the HTTP control and monitoring API: session and
// speaker lifecycle management, health and statistics endpoints, transcript
// history, Prometheus metrics, and the websocket observer endpoint.
package server

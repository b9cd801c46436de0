// Package `linechat` implements text chat over TCP, both server and client side.
//
// To compile chat locally, run from package directory:
//
//	go install .
//
// Launch server:
//
//	linechat --mode server --port 20000
//
// Join chat from another terminal, type exit or quit to leave:
//
//	linechat --mode client --ip 127.0.0.1 --port 20000 --name alice
//
// Every option has LINECHAT_* environment counterpart, a .env file from working
// directory is loaded too. Command-line flags take precedence over environment.
package main

package main

//go:generate swag init -g cmd/settler/main.go -o docs

// @title           Fan Pool Settlement API
// @version         0.1.0
// @description     Pari-mutuel pool lifecycle, batch settlement, and reconciliation.
// @host            localhost:8080
// @BasePath        /
// @schemes         http

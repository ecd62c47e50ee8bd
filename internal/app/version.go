package app

// Version is the build version, injected by the cmd package at startup.
var Version = "dev"

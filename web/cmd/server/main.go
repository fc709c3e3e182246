// Package main runs a map server that merges submaps from many robots into one shared map.
package main

import (
	"go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/web/server"
)

var logger = logging.NewLogger("map-server")

func main() {
	utils.ContextualMain(server.RunServer, logger)
}

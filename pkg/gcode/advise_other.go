//go:build !linux

package gcode

import "os"

func adviseSequential(*os.File) {}

package main

import "github.com/careerct/room-whisper-sync/cmd/roomsync/cmd"

func main() {
	cmd.Execute()
}

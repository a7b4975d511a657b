// Chat room extension image. Build with:
//
//	go build -buildmode=plugin -o chatroom.so ./cmd/plugins/chatroom
//
// The host resolves the LoadPlugin symbol; the remaining exports are back
// doors for the chat room's test harness.
package main

import (
	"encoding/json"
	"sync"
	"time"

	"excalibur/internal/abi"
	"excalibur/internal/chatroom"
)

var (
	mu   sync.Mutex
	room *chatroom.Room
)

// LoadPlugin is the extension entry point the host links against.
func LoadPlugin(server abi.ServerHandle, configuration json.RawMessage, diag abi.DiagSink) abi.Unload {
	loaded, unload := chatroom.LoadRoom(server, configuration, diag)
	if unload == nil {
		return nil
	}

	mu.Lock()
	room = loaded
	mu.Unlock()

	return func() {
		unload()
		mu.Lock()
		room = nil
		mu.Unlock()
	}
}

func activeRoom() *chatroom.Room {
	mu.Lock()
	defer mu.Unlock()
	return room
}

// GetNextQuestion returns the current math question.
func GetNextQuestion() string {
	if r := activeRoom(); r != nil {
		return r.NextQuestion()
	}
	return ""
}

// GetNextAnswer returns the answer to the current math question.
func GetNextAnswer() string {
	if r := activeRoom(); r != nil {
		return r.NextAnswer()
	}
	return ""
}

// SetNextAnswer overrides the current answer and re-arms scoring.
func SetNextAnswer(answer string) {
	if r := activeRoom(); r != nil {
		r.SetNextAnswer(answer)
	}
}

// SetAnsweredCorrectly disarms scoring for the current question.
func SetAnsweredCorrectly() {
	if r := activeRoom(); r != nil {
		r.MarkAnsweredCorrectly()
	}
}

// AwaitNextQuestion blocks until an unanswered question is outstanding, for
// up to one second.
func AwaitNextQuestion() {
	if r := activeRoom(); r != nil {
		r.AwaitNextQuestion(time.Second)
	}
}

func main() {}

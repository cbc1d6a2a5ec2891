package audio

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog/log"
)

// ExecPlayer plays audio through an external command. Each Play writes the
// audio to a temp file and appends its path to the command line; a new Play
// kills whatever is still playing.
type ExecPlayer struct {
	cmd []string

	mu      sync.Mutex
	current *exec.Cmd
}

// NewExecPlayer parses command, e.g. "ffplay -nodisp -autoexit"
func NewExecPlayer(command string) (*ExecPlayer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command is empty")
	}
	return &ExecPlayer{cmd: args}, nil
}

// Play starts playback of audio and returns once the player process runs
func (p *ExecPlayer) Play(ctx context.Context, data []byte, contentType string) error {
	if len(data) == 0 {
		return errors.New("no audio to play")
	}

	file, err := os.CreateTemp("", "chat_tts_*"+extensionFor(contentType))
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("write audio: %w", err)
	}
	file.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	args := append(append([]string{}, p.cmd[1:]...), file.Name())
	cmd := exec.Command(p.cmd[0], args...)
	if err := cmd.Start(); err != nil {
		os.Remove(file.Name())
		return fmt.Errorf("start player: %w", err)
	}
	p.current = cmd

	go func(cmd *exec.Cmd, path string) {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Msg("Player exited")
		}
		os.Remove(path)
		p.mu.Lock()
		if p.current == cmd {
			p.current = nil
		}
		p.mu.Unlock()
	}(cmd, file.Name())

	return nil
}

// Stop kills the current playback, if any
func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *ExecPlayer) stopLocked() {
	if p.current != nil && p.current.Process != nil {
		_ = p.current.Process.Kill()
	}
	p.current = nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	}
	return ".bin"
}

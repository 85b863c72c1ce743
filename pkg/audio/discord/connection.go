package discord

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/chronicler/pkg/audio"
)

// speaker is the resolved identity behind one SSRC.
type speaker struct {
	id   string
	name string
}

// Connection receives mixed-down voice traffic from one Discord channel and
// delivers it as per-speaker [audio.Frame] values. Discord tags every RTP
// packet with an SSRC; the speaking updates on the voice connection tell us
// which user owns which SSRC. Packets that arrive before their SSRC has been
// announced are dropped.
type Connection struct {
	log     *slog.Logger
	vc      *discordgo.VoiceConnection
	handler audio.FrameHandler

	recv        <-chan *discordgo.Packet
	resolveName func(userID string) string
	newDecoder  func() (decoder, error)
	// disconnectVC is swapped out in tests that have no gateway connection.
	disconnectVC func() error

	mu       sync.Mutex
	decoders map[uint32]decoder
	speakers map[uint32]speaker

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ audio.Connection = (*Connection)(nil)

func newConnection(log *slog.Logger, vc *discordgo.VoiceConnection, h audio.FrameHandler, resolveName func(string) string) *Connection {
	c := &Connection{
		log:          log,
		vc:           vc,
		handler:      h,
		recv:         vc.OpusRecv,
		resolveName:  resolveName,
		newDecoder:   newOpusDecoder,
		disconnectVC: vc.Disconnect,
		decoders:     make(map[uint32]decoder),
		speakers:     make(map[uint32]speaker),
		done:         make(chan struct{}),
	}
	vc.AddHandler(c.handleSpeaking)
	return c
}

// start launches the receive loop.
func (c *Connection) start() {
	c.wg.Add(1)
	go c.recvLoop()
}

// IsConnected reports whether the voice websocket is still up.
func (c *Connection) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return c.vc == nil || c.vc.Ready
}

// Disconnect leaves the voice channel and stops frame delivery. It is safe to
// call more than once.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.disconnectVC()
	})
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("discord: leave voice channel: %w", err)
	}
	return nil
}

// handleSpeaking records the SSRC to user mapping announced on the voice
// connection. Discord sends one of these before a user's first audio packet.
func (c *Connection) handleSpeaking(vc *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	ssrc := uint32(vs.SSRC)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.speakers[ssrc]; ok && cur.id == vs.UserID {
		return
	}
	c.speakers[ssrc] = speaker{id: vs.UserID, name: c.resolveName(vs.UserID)}
	c.log.Debug("voice speaker mapped", "ssrc", ssrc, "user_id", vs.UserID)
}

func (c *Connection) recvLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.recv:
			if !ok {
				c.log.Info("voice receive channel closed")
				return
			}
			c.handlePacket(pkt)
		}
	}
}

func (c *Connection) handlePacket(pkt *discordgo.Packet) {
	c.mu.Lock()
	sp, known := c.speakers[pkt.SSRC]
	if !known {
		c.mu.Unlock()
		c.log.Debug("dropping packet from unannounced ssrc", "ssrc", pkt.SSRC)
		return
	}
	dec, ok := c.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = c.newDecoder()
		if err != nil {
			c.mu.Unlock()
			c.log.Error("creating opus decoder failed", "ssrc", pkt.SSRC, "error", err)
			return
		}
		c.decoders[pkt.SSRC] = dec
	}
	c.mu.Unlock()

	pcm, err := dec.decode(pkt.Opus)
	if err != nil {
		c.log.Warn("dropping undecodable packet", "ssrc", pkt.SSRC, "user_id", sp.id, "error", err)
		return
	}

	c.handler(audio.Frame{
		SpeakerID:   sp.id,
		SpeakerName: sp.name,
		PCM:         pcm,
		Format:      audio.Format{SampleRate: opusSampleRate, Channels: opusChannels},
		Timestamp:   time.Now(),
	})
}

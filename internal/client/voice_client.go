package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zokiio/proximity-voice/internal/speaker"
)

const (
	AuthTimeoutSeconds = 5
	maxAuthRetries     = 3
	natProbeTimeout    = 8 * time.Second
	pruneInterval      = time.Second
)

type VoiceClient struct {
	clientID      uuid.UUID
	username      string
	serverAddr    string
	serverPort    int
	serverUDPAddr *net.UDPAddr
	socket        *net.UDPConn
	audioManager  *AudioManager
	speakerLabel  string

	manager atomic.Pointer[speaker.Manager]
	tracker *PositionTracker
	mutedMu sync.RWMutex
	muted   map[uuid.UUID]struct{}

	// settingsMu is separate from mu so the UI never waits on Connect.
	settingsMu sync.Mutex
	settings   speaker.Settings

	connected   atomic.Bool
	packetCount atomic.Uint64
	cancel      context.CancelFunc
	rxDone      chan struct{}
	bgDone      sync.WaitGroup
	mu          sync.Mutex

	natTraversal *NATTraversal
	natInfo      *NATInfo
	enableUPnP   bool
	enableSTUN   bool
}

func NewVoiceClient(cfg ClientConfig) *VoiceClient {
	vc := &VoiceClient{
		clientID:     uuid.New(),
		tracker:      NewPositionTracker(),
		settings:     speaker.DefaultSettings(),
		muted:        make(map[uuid.UUID]struct{}),
		speakerLabel: cfg.SpeakerLabel,
		enableUPnP:   cfg.EnableUPnP,
		enableSTUN:   cfg.EnableSTUN,
	}
	vc.settings.Volume = clampVolume(cfg.Volume)
	vc.settings.Occlusion = cfg.Occlusion
	for _, id := range cfg.MutedSources {
		vc.muted[id] = struct{}{}
	}
	return vc
}

func (vc *VoiceClient) IsConnected() bool {
	return vc.connected.Load()
}

// SetVolume sets the master playback volume, 0..2.
func (vc *VoiceClient) SetVolume(volume float64) {
	vc.settingsMu.Lock()
	vc.settings.Volume = clampVolume(volume)
	vc.pushSettingsLocked()
	vc.settingsMu.Unlock()
}

func (vc *VoiceClient) SetOcclusion(enabled bool) {
	vc.settingsMu.Lock()
	vc.settings.Occlusion = enabled
	vc.pushSettingsLocked()
	vc.settingsMu.Unlock()
}

func (vc *VoiceClient) Settings() speaker.Settings {
	vc.settingsMu.Lock()
	defer vc.settingsMu.Unlock()
	return vc.settings
}

func (vc *VoiceClient) pushSettingsLocked() {
	if manager := vc.manager.Load(); manager != nil {
		manager.SetSettings(vc.settings)
	}
}

// SetSuppressed silences all speakers without tearing them down.
func (vc *VoiceClient) SetSuppressed(suppressed bool) {
	if manager := vc.manager.Load(); manager != nil {
		manager.SetSuppressed(suppressed)
	}
}

// SetMuted drops all audio from a source. Muting a talking source ends its
// stream immediately.
func (vc *VoiceClient) SetMuted(id uuid.UUID, muted bool) {
	vc.mutedMu.Lock()
	if muted {
		vc.muted[id] = struct{}{}
	} else {
		delete(vc.muted, id)
	}
	vc.mutedMu.Unlock()

	if manager := vc.manager.Load(); muted && manager != nil {
		manager.Deliver(id, speaker.StopPacket(vc.Settings().MaxDistance))
	}
}

func (vc *VoiceClient) IsMuted(id uuid.UUID) bool {
	vc.mutedMu.RLock()
	defer vc.mutedMu.RUnlock()
	_, ok := vc.muted[id]
	return ok
}

func (vc *VoiceClient) MutedSources() []uuid.UUID {
	vc.mutedMu.RLock()
	defer vc.mutedMu.RUnlock()
	ids := make([]uuid.UUID, 0, len(vc.muted))
	for id := range vc.muted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// TalkingSources lists the sources currently heard.
func (vc *VoiceClient) TalkingSources() []uuid.UUID {
	manager := vc.manager.Load()
	if manager == nil {
		return nil
	}
	return manager.Talking().List()
}

func (vc *VoiceClient) Stats() speaker.StatsSnapshot {
	manager := vc.manager.Load()
	if manager == nil {
		return speaker.StatsSnapshot{}
	}
	return manager.Stats()
}

// SetNATTraversal enables or disables NAT traversal for the next connect.
func (vc *VoiceClient) SetNATTraversal(enableUPnP bool, enableSTUN bool) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.enableUPnP = enableUPnP
	vc.enableSTUN = enableSTUN
	log.Printf("[NAT] NAT traversal settings: UPnP=%v, STUN=%v", enableUPnP, enableSTUN)
}

// GetNATStatus returns a user-facing connection quality string.
func (vc *VoiceClient) GetNATStatus() string {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return natStatus(vc.natInfo)
}

func natStatus(info *NATInfo) string {
	if info == nil {
		return "Connection: Checking..."
	}

	var status string
	switch info.Type {
	case NATTypeOpen:
		status = "Connection: Excellent"
	case NATTypeModerate:
		status = "Connection: Good"
	case NATTypeStrict:
		status = "Connection: Limited"
	case NATTypeSymmetric, NATTypeBlocked:
		status = "Connection: Poor"
	default:
		status = "Connection: Unknown"
	}
	if info.UPnPMapped {
		status += " ✓"
	}
	return status
}

func (vc *VoiceClient) Connect(serverAddr string, serverPort int, username string, speakerLabel string) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vc.connected.Load() {
		return fmt.Errorf("already connected")
	}

	vc.username = username
	vc.serverAddr = serverAddr
	vc.serverPort = serverPort
	vc.speakerLabel = speakerLabel

	log.Printf("Connecting to voice server at %s:%d as user '%s'", serverAddr, serverPort, username)

	audioManager := NewAudioManager(defaultSampleRate)
	audioManager.SetOutputDeviceLabel(speakerLabel)
	if err := audioManager.Start(); err != nil {
		return fmt.Errorf("failed to start audio: %w", err)
	}

	socket, err := net.ListenUDP("udp", nil)
	if err != nil {
		audioManager.Stop()
		return fmt.Errorf("failed to create UDP socket: %w", err)
	}
	log.Printf("[NAT] Local UDP socket bound to %s", socket.LocalAddr())

	// STUN shares the voice socket, so it must finish before the receive
	// loop owns reads.
	vc.natTraversal = nil
	vc.natInfo = nil
	if vc.enableUPnP || vc.enableSTUN {
		nt := NewNATTraversal()
		ctx, cancel := context.WithTimeout(context.Background(), natProbeTimeout)
		info := nt.Probe(ctx, socket, vc.enableSTUN, vc.enableUPnP)
		cancel()
		vc.natTraversal = nt
		vc.natInfo = &info
	}

	serverUDPAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(serverAddr, strconv.Itoa(serverPort)))
	if err != nil {
		vc.abortConnect(socket, audioManager)
		return fmt.Errorf("failed to resolve server address: %w", err)
	}
	vc.serverUDPAddr = serverUDPAddr
	vc.socket = socket

	var lastErr error
	var server *serverSettings
	for attempt := 1; attempt <= maxAuthRetries; attempt++ {
		if attempt > 1 {
			log.Printf("Authentication attempt %d/%d", attempt, maxAuthRetries)
			time.Sleep(time.Duration(math.Pow(2, float64(attempt-2))) * time.Second)
		}

		if _, err := socket.WriteToUDP(encodeAuthentication(vc.clientID, vc.username), serverUDPAddr); err != nil {
			lastErr = err
			continue
		}

		socket.SetReadDeadline(time.Now().Add(time.Duration(AuthTimeoutSeconds) * time.Second))
		server, err = vc.waitForAcknowledgment()
		if err != nil {
			lastErr = err
			var rejected *authRejectedError
			if errors.As(err, &rejected) {
				break
			}
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		vc.abortConnect(socket, audioManager)
		return fmt.Errorf("failed to connect after %d attempts: %w", maxAuthRetries, lastErr)
	}

	log.Println("Server acknowledged connection")
	socket.SetReadDeadline(time.Time{})

	if server != nil {
		vc.settingsMu.Lock()
		vc.settings.MaxDistance = server.maxDistance
		vc.settings.FadeDivisor = server.fadeDivisor
		vc.settings.PriorityFadeDivisor = server.priorityFadeDivisor
		vc.settingsMu.Unlock()
		log.Printf("[SPEAKER] Server range %d, fade divisors %d/%d",
			server.maxDistance, server.fadeDivisor, server.priorityFadeDivisor)
	}

	vc.audioManager = audioManager
	cfg := speaker.DefaultConfig()
	cfg.Format = audioManager.Format()
	vc.startSessionLocked(cfg, audioManager, audioManager.NewDecoder)

	vc.rxDone = make(chan struct{})
	go vc.receiveLoop(socket, vc.rxDone)
	return nil
}

func (vc *VoiceClient) abortConnect(socket *net.UDPConn, audioManager *AudioManager) {
	if vc.natTraversal != nil {
		if err := vc.natTraversal.RemovePortMapping(); err != nil {
			log.Printf("[NAT] Warning: %v", err)
		}
	}
	socket.Close()
	audioManager.Stop()
	vc.socket = nil
}

// startSessionLocked creates the speaker manager and its background loops.
func (vc *VoiceClient) startSessionLocked(cfg speaker.Config, devices speaker.Devices, newDecoder func() (speaker.Decoder, error)) {
	manager := speaker.NewManager(cfg, devices, vc.tracker, newDecoder)
	vc.settingsMu.Lock()
	manager.SetSettings(vc.settings)
	vc.manager.Store(manager)
	vc.settingsMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	vc.cancel = cancel
	vc.connected.Store(true)

	vc.bgDone.Add(2)
	go func() {
		defer vc.bgDone.Done()
		manager.Run(ctx)
	}()
	go func() {
		defer vc.bgDone.Done()
		vc.pruneLoop(ctx)
	}()
}

func (vc *VoiceClient) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			vc.tracker.Prune()
		}
	}
}

func (vc *VoiceClient) Disconnect() error {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if !vc.connected.Load() {
		return nil
	}

	if vc.socket != nil && vc.serverUDPAddr != nil {
		vc.socket.WriteToUDP(encodeDisconnect(vc.clientID), vc.serverUDPAddr)
		log.Println("Sent disconnect packet to server")
	}

	vc.connected.Store(false)
	if vc.socket != nil {
		vc.socket.Close()
	}
	if vc.rxDone != nil {
		select {
		case <-vc.rxDone:
		case <-time.After(time.Second):
		}
	}

	vc.stopSessionLocked()

	if vc.audioManager != nil {
		vc.audioManager.Stop()
		vc.audioManager = nil
	}
	if vc.natTraversal != nil {
		if err := vc.natTraversal.RemovePortMapping(); err != nil {
			log.Printf("[NAT] Warning: failed to remove port mapping: %v", err)
		}
		vc.natTraversal = nil
		vc.natInfo = nil
	}

	log.Println("Disconnected from voice server")
	return nil
}

func (vc *VoiceClient) stopSessionLocked() {
	vc.connected.Store(false)
	if vc.cancel != nil {
		vc.cancel()
		vc.cancel = nil
	}
	vc.bgDone.Wait()
	if manager := vc.manager.Swap(nil); manager != nil {
		manager.Close()
	}
}

type authRejectedError struct {
	message string
}

func (e *authRejectedError) Error() string {
	return "authentication rejected: " + e.message
}

func (vc *VoiceClient) waitForAcknowledgment() (*serverSettings, error) {
	buffer := make([]byte, 512)

	for {
		n, _, err := vc.socket.ReadFromUDP(buffer)
		if err != nil {
			return nil, err
		}

		if n < authAckMinSize || buffer[0] != PacketTypeAuthAck {
			continue
		}

		ackClientID, accepted, message, settings, ok := parseAuthAck(buffer[:n])
		if !ok || ackClientID != vc.clientID {
			continue
		}
		if !accepted {
			return nil, &authRejectedError{message: message}
		}
		log.Printf("Received authentication acknowledgment: %s", message)
		return settings, nil
	}
}

func (vc *VoiceClient) receiveLoop(socket *net.UDPConn, done chan struct{}) {
	defer close(done)

	buffer := make([]byte, 4096)
	for vc.connected.Load() {
		n, _, err := socket.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if vc.connected.Load() {
				log.Printf("Receive error: %v", err)
			}
			continue
		}
		vc.handlePacket(buffer[:n])
	}
}

// handlePacket dispatches one datagram from the server.
func (vc *VoiceClient) handlePacket(data []byte) {
	if len(data) == 0 {
		return
	}

	manager := vc.manager.Load()
	if manager == nil {
		return
	}

	switch data[0] {
	case PacketTypeAudio, PacketTypeTestAudio:
		frame, ok := parseAudioPacket(data)
		if !ok {
			return
		}
		if vc.IsMuted(frame.source) {
			return
		}
		if frame.position != nil {
			occlusion := frame.occlusion
			if !frame.hasOcclusion {
				occlusion = vc.tracker.OccludedPercent(frame.source, speaker.Vec3{}, *frame.position)
			}
			vc.tracker.Update(frame.source, *frame.position, occlusion)
		} else {
			vc.tracker.UpdateRelative(frame.source)
		}

		if count := vc.packetCount.Add(1); count%100 == 1 {
			log.Printf("Received audio packet #%d from %s, size=%d bytes", count, frame.source, len(frame.packet.Payload))
		}
		manager.Deliver(frame.source, frame.packet)

	case PacketTypeAudioEnd:
		source, stop, ok := parseAudioEnd(data)
		if !ok {
			return
		}
		manager.Deliver(source, stop)
		vc.tracker.Forget(source)

	case PacketTypeListenerState:
		pose, ok := parseListenerState(data)
		if !ok {
			return
		}
		vc.tracker.SetListener(pose)
	}
}

// parseServerAddress accepts "host", "host:port" and "[v6]:port".
func parseServerAddress(input string, defaultPort int) (string, int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", 0, fmt.Errorf("server address is empty")
	}

	if host, portStr, err := net.SplitHostPort(input); err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("invalid port %q", portStr)
		}
		if host == "" {
			return "", 0, fmt.Errorf("server host is empty")
		}
		return host, port, nil
	}

	host := strings.TrimSuffix(strings.TrimPrefix(input, "["), "]")
	return host, defaultPort, nil
}

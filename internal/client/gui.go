//go:build cgo
// +build cgo

package client

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"github.com/google/uuid"
)

const refreshInterval = time.Second

// StatusLabel truncates long text and shows the full text on hover.
type StatusLabel struct {
	widget.Label
	fullText string
	maxChars int
	window   fyne.Window
	popup    *widget.PopUp
}

func NewStatusLabel(maxChars int, window fyne.Window) *StatusLabel {
	label := &StatusLabel{maxChars: maxChars, window: window}
	label.ExtendBaseWidget(label)
	return label
}

func (sl *StatusLabel) SetText(text string) {
	sl.fullText = text
	if len(text) > sl.maxChars {
		sl.Label.SetText(text[:sl.maxChars] + "...")
	} else {
		sl.Label.SetText(text)
	}
}

func (sl *StatusLabel) MouseIn(*desktop.MouseEvent) {
	if len(sl.fullText) <= sl.maxChars || sl.window == nil {
		return
	}
	sl.popup = widget.NewPopUp(widget.NewLabel(sl.fullText), sl.window.Canvas())
	pos := fyne.CurrentApp().Driver().AbsolutePositionForObject(sl)
	sl.popup.ShowAtPosition(pos.Add(fyne.NewPos(0, sl.Size().Height)))
}

func (sl *StatusLabel) MouseMoved(*desktop.MouseEvent) {}

func (sl *StatusLabel) MouseOut() {
	if sl.popup != nil {
		sl.popup.Hide()
		sl.popup = nil
	}
}

type GUI struct {
	voiceClient *VoiceClient
	config      ClientConfig
	myApp       fyne.App
	win         fyne.Window
	done        chan struct{}

	serverInput    *widget.Entry
	portInput      *widget.Entry
	usernameInput  *widget.Entry
	speakerSelect  *widget.Select
	connectBtn     *widget.Button
	volumeSlider   *widget.Slider
	volumeLabel    *widget.Label
	occlusionCheck *widget.Check
	suppressCheck  *widget.Check
	statusLabel    *StatusLabel
	natLabel       *widget.Label
	statsLabel     *widget.Label
	talkingList    *fyne.Container
}

func NewGUI(client *VoiceClient, cfg ClientConfig) *GUI {
	return &GUI{
		voiceClient: client,
		config:      cfg,
		done:        make(chan struct{}),
	}
}

func (gui *GUI) runOnUI(fn func()) {
	fyne.Do(fn)
}

// Run shows the window and blocks until it is closed.
func (gui *GUI) Run() {
	gui.myApp = app.New()
	gui.win = gui.myApp.NewWindow("Proximity Voice")
	gui.setupUI()

	gui.win.SetCloseIntercept(func() {
		close(gui.done)
		gui.saveConfigFromUI()
		if err := gui.voiceClient.Disconnect(); err != nil {
			log.Printf("Disconnect failed: %v", err)
		}
		gui.win.Close()
	})

	go gui.refreshPeriodically()

	gui.win.Resize(fyne.NewSize(520, 360))
	gui.win.CenterOnScreen()
	gui.win.ShowAndRun()
}

func (gui *GUI) setupUI() {
	cfg := gui.config

	gui.serverInput = widget.NewEntry()
	gui.serverInput.SetPlaceHolder("Server (host or host:port)")
	gui.serverInput.SetText(cfg.Server)

	gui.portInput = widget.NewEntry()
	gui.portInput.SetPlaceHolder("Port")
	gui.portInput.SetText(strconv.Itoa(cfg.Port))

	gui.usernameInput = widget.NewEntry()
	gui.usernameInput.SetPlaceHolder("Username")
	gui.usernameInput.SetText(cfg.Username)

	speakerOptions, err := ListOutputDevices()
	if err != nil {
		log.Printf("[AUDIO] Listing output devices failed: %v", err)
		speakerOptions = []string{DefaultDeviceLabel}
	}
	gui.speakerSelect = widget.NewSelect(speakerOptions, nil)
	gui.speakerSelect.SetSelected(selectOption(speakerOptions, cfg.SpeakerLabel))

	gui.connectBtn = widget.NewButton("Connect", gui.onConnectClicked)

	gui.volumeLabel = widget.NewLabel(volumeText(cfg.Volume))
	gui.volumeSlider = widget.NewSlider(0, 200)
	gui.volumeSlider.Step = 1
	gui.volumeSlider.SetValue(cfg.Volume * 100)
	gui.volumeSlider.OnChanged = func(v float64) {
		gui.voiceClient.SetVolume(v / 100)
		gui.volumeLabel.SetText(volumeText(v / 100))
	}
	gui.volumeSlider.OnChangeEnded = func(float64) {
		gui.saveConfigFromUI()
	}

	gui.occlusionCheck = widget.NewCheck("Muffle voices behind walls", func(on bool) {
		gui.voiceClient.SetOcclusion(on)
		gui.saveConfigFromUI()
	})
	gui.occlusionCheck.SetChecked(cfg.Occlusion)

	gui.suppressCheck = widget.NewCheck("Silence all speakers", func(on bool) {
		gui.voiceClient.SetSuppressed(on)
	})

	gui.statusLabel = NewStatusLabel(48, gui.win)
	gui.statusLabel.SetText("Disconnected")
	gui.natLabel = widget.NewLabel("")
	gui.statsLabel = widget.NewLabel("")
	gui.talkingList = container.NewVBox()

	connectionBox := container.NewVBox(
		widget.NewLabel("Connection"),
		widget.NewSeparator(),
		widget.NewLabel("Server:"),
		gui.serverInput,
		widget.NewLabel("Port:"),
		gui.portInput,
		widget.NewLabel("Username:"),
		gui.usernameInput,
		widget.NewLabel("Speaker:"),
		gui.speakerSelect,
		gui.connectBtn,
		gui.statusLabel,
		gui.natLabel,
	)

	settingsBox := container.NewVBox(
		widget.NewLabel("Playback"),
		widget.NewSeparator(),
		container.NewBorder(nil, nil, gui.volumeLabel, nil, gui.volumeSlider),
		gui.occlusionCheck,
		gui.suppressCheck,
		gui.statsLabel,
		widget.NewLabel("Talking"),
		widget.NewSeparator(),
		container.NewVScroll(gui.talkingList),
	)

	gui.win.SetContent(container.NewHBox(
		container.NewPadded(connectionBox),
		container.NewPadded(settingsBox),
	))
	gui.refresh()
}

func (gui *GUI) onConnectClicked() {
	if gui.voiceClient.IsConnected() {
		gui.voiceClient.Disconnect()
		gui.connectBtn.SetText("Connect")
		gui.statusLabel.SetText("Disconnected")
		gui.setConnectionEditable(true)
		return
	}

	defaultPort := defaultServerPort
	if portStr := strings.TrimSpace(gui.portInput.Text); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			gui.statusLabel.SetText("Invalid port number")
			return
		}
		defaultPort = p
	}

	host, port, err := parseServerAddress(gui.serverInput.Text, defaultPort)
	if err != nil {
		gui.statusLabel.SetText(fmt.Sprintf("Invalid server: %v", err))
		return
	}
	gui.serverInput.SetText(host)
	gui.portInput.SetText(strconv.Itoa(port))
	gui.saveConfigFromUI()

	username := strings.TrimSpace(gui.usernameInput.Text)
	speakerLabel := gui.speakerSelect.Selected

	gui.statusLabel.SetText(fmt.Sprintf("Connecting to %s:%d...", host, port))
	gui.connectBtn.Disable()
	gui.setConnectionEditable(false)

	go func() {
		err := gui.voiceClient.Connect(host, port, username, speakerLabel)
		gui.runOnUI(func() {
			gui.connectBtn.Enable()
			if err != nil {
				gui.statusLabel.SetText(fmt.Sprintf("Error: %v", err))
				gui.setConnectionEditable(true)
				return
			}
			gui.voiceClient.SetSuppressed(gui.suppressCheck.Checked)
			gui.statusLabel.SetText(fmt.Sprintf("Connected as %s", username))
			gui.connectBtn.SetText("Disconnect")
		})
	}()
}

func (gui *GUI) setConnectionEditable(enabled bool) {
	controls := []fyne.Disableable{gui.serverInput, gui.portInput, gui.usernameInput, gui.speakerSelect}
	for _, c := range controls {
		if enabled {
			c.Enable()
		} else {
			c.Disable()
		}
	}
}

func (gui *GUI) refreshPeriodically() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gui.runOnUI(gui.refresh)
		case <-gui.done:
			return
		}
	}
}

func (gui *GUI) refresh() {
	if !gui.voiceClient.IsConnected() {
		gui.natLabel.SetText("")
		gui.statsLabel.SetText("")
		gui.talkingList.Objects = []fyne.CanvasObject{widget.NewLabel("Not connected")}
		gui.talkingList.Refresh()
		return
	}

	gui.natLabel.SetText(gui.voiceClient.GetNATStatus())
	stats := gui.voiceClient.Stats()
	gui.statsLabel.SetText(fmt.Sprintf("Quality: %s (%d played, %.1f%% concealed)",
		stats.Quality(), stats.Played, stats.ConcealedPercent()))

	talking := gui.voiceClient.TalkingSources()
	muted := gui.voiceClient.MutedSources()
	rows := make([]fyne.CanvasObject, 0, len(talking)+len(muted))
	for _, id := range talking {
		rows = append(rows, gui.sourceRow(id, false))
	}
	for _, id := range muted {
		rows = append(rows, gui.sourceRow(id, true))
	}
	if len(rows) == 0 {
		rows = append(rows, widget.NewLabel("Nobody is talking"))
	}
	gui.talkingList.Objects = rows
	gui.talkingList.Refresh()
}

func (gui *GUI) sourceRow(id uuid.UUID, muted bool) fyne.CanvasObject {
	label := widget.NewLabel(shortID(id))
	text := "Mute"
	if muted {
		text = "Unmute"
	}
	btn := widget.NewButton(text, func() {
		gui.voiceClient.SetMuted(id, !muted)
		gui.saveConfigFromUI()
		gui.refresh()
	})
	return container.NewBorder(nil, nil, label, btn)
}

func (gui *GUI) saveConfigFromUI() {
	cfg := gui.config
	cfg.Server = strings.TrimSpace(gui.serverInput.Text)
	if port, err := strconv.Atoi(strings.TrimSpace(gui.portInput.Text)); err == nil {
		cfg.Port = port
	}
	cfg.Username = strings.TrimSpace(gui.usernameInput.Text)
	cfg.SpeakerLabel = gui.speakerSelect.Selected
	cfg.Volume = gui.volumeSlider.Value / 100
	cfg.Occlusion = gui.occlusionCheck.Checked
	cfg.MutedSources = gui.voiceClient.MutedSources()
	gui.config = cfg

	if err := SaveClientConfig(cfg); err != nil {
		log.Printf("[CONFIG] Save failed: %v", err)
	}
}

func selectOption(options []string, want string) string {
	for _, option := range options {
		if option == want {
			return option
		}
	}
	if len(options) > 0 {
		return options[0]
	}
	return ""
}

func volumeText(v float64) string {
	return fmt.Sprintf("Volume: %3.0f%%", v*100)
}

func shortID(id uuid.UUID) string {
	s := id.String()
	return s[:8]
}

package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/pion/stun"
)

// NATType is a coarse classification of the path to the voice server.
type NATType string

const (
	NATTypeOpen      NATType = "Open"
	NATTypeModerate  NATType = "Moderate"
	NATTypeStrict    NATType = "Strict"
	NATTypeSymmetric NATType = "Symmetric"
	NATTypeUnknown   NATType = "Unknown"
	NATTypeBlocked   NATType = "Blocked"
)

const stunTimeout = 2 * time.Second

var stunServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

// NATInfo is what the client learned about its reachability while
// connecting.
type NATInfo struct {
	Type           NATType
	PublicIP       string
	PublicPort     int
	LocalIP        string
	LocalPort      int
	UPnPAvailable  bool
	UPnPMapped     bool
	STUNResponsive bool
	ErrorMessage   string
}

// NATTraversal keeps a UPnP mapping for the voice socket alive so servers
// behind strict firewalls can still reach us.
type NATTraversal struct {
	mu            sync.Mutex
	externalPort  int
	upnpClient    *internetgateway2.WANIPConnection1
	mappingActive bool
	info          NATInfo
}

func NewNATTraversal() *NATTraversal {
	return &NATTraversal{info: NATInfo{Type: NATTypeUnknown}}
}

// Probe runs STUN over conn before it is handed to the receive loop, then
// optionally opens a UPnP mapping for the local port.
func (nt *NATTraversal) Probe(ctx context.Context, conn *net.UDPConn, useSTUN, useUPnP bool) NATInfo {
	info := NATInfo{Type: NATTypeUnknown}
	local, _ := conn.LocalAddr().(*net.UDPAddr)
	if local != nil {
		info.LocalPort = local.Port
	}
	if ip, err := getLocalIP(); err == nil {
		info.LocalIP = ip
	}

	var mapped []*net.UDPAddr
	if useSTUN {
		for _, server := range stunServers {
			if ctx.Err() != nil {
				break
			}
			addr, err := stunRequest(conn, server)
			if err != nil {
				log.Printf("[NAT] STUN request to %s failed: %v", server, err)
				info.ErrorMessage = fmt.Sprintf("STUN failed: %v", err)
				continue
			}
			mapped = append(mapped, addr)
		}
		if len(mapped) > 0 {
			info.STUNResponsive = true
			info.PublicIP = mapped[0].IP.String()
			info.PublicPort = mapped[0].Port
			info.ErrorMessage = ""
		}
	}

	if useUPnP && ctx.Err() == nil && info.LocalPort > 0 {
		if err := nt.setupPortMapping(info.LocalIP, info.LocalPort, info.LocalPort, "proximity-voice"); err != nil {
			log.Printf("[NAT] UPnP port mapping failed: %v", err)
		} else {
			info.UPnPAvailable = true
			info.UPnPMapped = true
		}
	}

	if useSTUN {
		info.Type = classifyNAT(mapped, info.LocalIP, info.UPnPAvailable)
	}

	log.Printf("[NAT] Type=%s, Public=%s:%d, Local=%s:%d, UPnP=%v, STUN=%v",
		info.Type, info.PublicIP, info.PublicPort, info.LocalIP, info.LocalPort,
		info.UPnPMapped, info.STUNResponsive)

	nt.mu.Lock()
	nt.info = info
	nt.mu.Unlock()
	return info
}

// classifyNAT derives the NAT type from the mapped addresses seen by each
// STUN server.
func classifyNAT(mapped []*net.UDPAddr, localIP string, upnp bool) NATType {
	if len(mapped) == 0 {
		return NATTypeBlocked
	}
	if mapped[0].IP.String() == localIP {
		return NATTypeOpen
	}
	for _, addr := range mapped[1:] {
		if addr.Port != mapped[0].Port || !addr.IP.Equal(mapped[0].IP) {
			return NATTypeSymmetric
		}
	}
	if upnp {
		return NATTypeModerate
	}
	return NATTypeStrict
}

func stunRequest(conn *net.UDPConn, server string) (*net.UDPAddr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve STUN server: %w", err)
	}

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if err := conn.SetDeadline(time.Now().Add(stunTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.WriteToUDP(request.Raw, serverAddr); err != nil {
		return nil, fmt.Errorf("send STUN request: %w", err)
	}

	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, fmt.Errorf("receive STUN response: %w", err)
		}
		if !from.IP.Equal(serverAddr.IP) || !stun.IsMessage(buf[:n]) {
			continue
		}
		addr, err := parseBindingResponse(buf[:n], request.TransactionID)
		if err != nil {
			return nil, err
		}
		return addr, nil
	}
}

var errSTUNTransaction = errors.New("STUN transaction mismatch")

func parseBindingResponse(raw []byte, transaction [stun.TransactionIDSize]byte) (*net.UDPAddr, error) {
	response := &stun.Message{Raw: append([]byte(nil), raw...)}
	if err := response.Decode(); err != nil {
		return nil, fmt.Errorf("decode STUN response: %w", err)
	}
	if response.TransactionID != transaction {
		return nil, errSTUNTransaction
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(response); err != nil {
		return nil, fmt.Errorf("read XOR-MAPPED-ADDRESS: %w", err)
	}
	return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}

func (nt *NATTraversal) setupPortMapping(localIP string, localPort, externalPort int, description string) error {
	if localIP == "" {
		return fmt.Errorf("local IP unknown")
	}
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return fmt.Errorf("UPnP discovery failed: %w", err)
	}
	if len(clients) == 0 {
		return fmt.Errorf("no UPnP-enabled gateway found")
	}

	client := clients[0]
	if err := client.AddPortMapping("", uint16(externalPort), "UDP", uint16(localPort), localIP, true, description, 0); err != nil {
		return fmt.Errorf("add UPnP port mapping: %w", err)
	}

	nt.mu.Lock()
	nt.upnpClient = client
	nt.externalPort = externalPort
	nt.mappingActive = true
	nt.mu.Unlock()

	log.Printf("[NAT] UPnP mapping UDP %d -> %s:%d", externalPort, localIP, localPort)
	return nil
}

// RemovePortMapping deletes the UPnP mapping created by Probe, if any.
func (nt *NATTraversal) RemovePortMapping() error {
	nt.mu.Lock()
	client, port, active := nt.upnpClient, nt.externalPort, nt.mappingActive
	nt.mappingActive = false
	nt.mu.Unlock()

	if !active || client == nil {
		return nil
	}
	if err := client.DeletePortMapping("", uint16(port), "UDP"); err != nil {
		return fmt.Errorf("remove port mapping: %w", err)
	}
	log.Printf("[NAT] Removed UPnP mapping for port %d", port)
	return nil
}

func (nt *NATTraversal) Info() NATInfo {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return nt.info
}

func getLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

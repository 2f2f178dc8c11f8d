package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/brokemediaio-a11y/OffLink/advert"
	"github.com/brokemediaio-a11y/OffLink/ble"
	"github.com/brokemediaio-a11y/OffLink/chat"
	"github.com/brokemediaio-a11y/OffLink/config"
	"github.com/brokemediaio-a11y/OffLink/identity"
	"github.com/brokemediaio-a11y/OffLink/logger"
	"github.com/brokemediaio-a11y/OffLink/store"
	"github.com/brokemediaio-a11y/OffLink/util"
)

// device bundles everything one simulated phone runs.
type device struct {
	name   string
	addr   identity.PeerID
	stable identity.StableID
	cm     *ble.ConnManager
	rec    *chat.Reconciler
	db     *store.DB
}

func newDevice(name, dataDir string, cfg config.Config) (*device, error) {
	addr := identity.RandomTransientAddress()
	deviceDir := util.GetDeviceDir(dataDir, string(addr))
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		return nil, err
	}

	stable, err := identity.LoadOrGenerateStableID(deviceDir)
	if err != nil {
		return nil, err
	}

	server := ble.NewServer(ble.DefaultServerConfig())
	arb := ble.NewArbiter(ble.ArbiterConfig{
		HardwareAddr:  string(addr),
		DeviceName:    name,
		DataDir:       dataDir,
		AdvertPayload: advert.Encode(stable),
	}, server)
	scanner := ble.NewScanner(cfg.ScanConfigFor())
	cm := ble.NewConnManager(arb, server, scanner, ble.MessageServiceUUID, ble.MessageCharUUID)

	db, err := store.Open(deviceDir)
	if err != nil {
		return nil, err
	}
	rec := chat.NewReconciler(db, chat.DefaultReconcilerConfig())
	if err := rec.Restore(); err != nil {
		return nil, err
	}

	return &device{name: name, addr: addr, stable: stable, cm: cm, rec: rec, db: db}, nil
}

func (d *device) close() {
	d.cm.Shutdown()
	d.db.Close()
}

// pump attributes inbound wire messages to conversations in the background.
func (d *device) pump() {
	go func() {
		for in := range d.cm.Inbound() {
			m := chat.NewInbound(string(in.Data), identity.PeerID(in.From), d.addr)
			conv := d.rec.Apply(m, "")
			fmt.Printf("  [%s] received %q from %s (conversation %s, %d unread)\n",
				d.name, in.Data, identity.PeerID(in.From).Short(),
				conv.CanonicalID.Short(), conv.UnreadCount)
		}
	}()
}

func main() {
	dataDir, err := os.MkdirTemp("", "offlink-sim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dataDir)

	cfg, err := config.Load(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config failed: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	fmt.Println("=== OffLink Two-Device Simulation ===")
	fmt.Println()

	anna, err := newDevice("OffLink Anna", dataDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "device setup failed: %v\n", err)
		os.Exit(1)
	}
	defer anna.close()

	ben, err := newDevice("OffLink Ben", dataDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "device setup failed: %v\n", err)
		os.Exit(1)
	}
	defer ben.close()

	fmt.Println("Devices:")
	fmt.Printf("  - %s  addr=%s  stable=%s\n", anna.name, anna.addr, anna.stable)
	fmt.Printf("  - %s  addr=%s  stable=%s\n", ben.name, ben.addr, ben.stable)
	fmt.Println()

	fmt.Println("Scenario 1: Advertisement codec round trip")
	payload := advert.Encode(ben.stable)
	decoded, ok := advert.Decode(payload)
	fmt.Printf("  %d-byte payload, decoded=%v, match=%v\n", len(payload), ok, decoded == ben.stable)
	fmt.Println()

	fmt.Println("Scenario 2: Discovery, connect, exchange")
	if err := ben.cm.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "ben init failed: %v\n", err)
		os.Exit(1)
	}
	if err := anna.cm.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "anna init failed: %v\n", err)
		os.Exit(1)
	}
	anna.pump()
	ben.pump()

	results, err := anna.cm.StartScan(3 * time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	benStable := identity.PeerIDFromStable(ben.stable)
	var found *ble.ScanResult
	for res := range results {
		if res.StableID == benStable {
			r := res
			found = &r
			break
		}
	}
	if err := anna.cm.StopScan(); err != nil {
		fmt.Fprintf(os.Stderr, "resume after scan failed: %v\n", err)
		os.Exit(1)
	}
	if found == nil {
		fmt.Fprintln(os.Stderr, "ben was never discovered")
		os.Exit(1)
	}
	fmt.Printf("  discovered %s addr=%s rssi=%d mode=%s\n",
		found.Name, found.Addr.Short(), found.RSSI, found.Mode)

	if !anna.cm.Connect(*found) {
		fmt.Fprintln(os.Stderr, "connect failed")
		os.Exit(1)
	}
	time.Sleep(200 * time.Millisecond)

	out := chat.NewOutbound("hey ben, no bars out here", anna.addr, found.Addr)
	anna.rec.Apply(out, found.Name)
	if err := anna.cm.Send([]byte(out.Content)); err != nil {
		anna.rec.UpdateStatus(out.ID, chat.StatusFailed)
		fmt.Printf("  send failed: %v\n", err)
	} else {
		anna.rec.UpdateStatus(out.ID, chat.StatusSent)
		fmt.Printf("  [%s] sent %q (status %s)\n", anna.name, out.Content, chat.StatusSent)
	}
	time.Sleep(300 * time.Millisecond)

	reply := chat.NewOutbound("found you on the trail", ben.addr, anna.addr)
	ben.rec.Apply(reply, "")
	if err := ben.cm.Send([]byte(reply.Content)); err != nil {
		ben.rec.UpdateStatus(reply.ID, chat.StatusFailed)
		fmt.Printf("  reply failed: %v\n", err)
	} else {
		ben.rec.UpdateStatus(reply.ID, chat.StatusSent)
		fmt.Printf("  [%s] sent %q (status %s)\n", ben.name, reply.Content, chat.StatusSent)
	}
	time.Sleep(300 * time.Millisecond)
	anna.cm.Disconnect()
	fmt.Println()

	fmt.Println("Scenario 3: Identity reconciliation across an address change")
	rec := chat.NewReconciler(store.NewMemory(), chat.DefaultReconcilerConfig())
	transient := identity.PeerID("AA:BB:CC:DD:EE:FF")
	stable := identity.PeerIDFromStable(ben.stable)

	m1 := chat.Message{
		ID: uuid.New().String(), Content: "you there?",
		SenderID: anna.addr, ReceiverID: transient,
		Timestamp: time.Now().Add(-5 * time.Minute),
		Status:    chat.StatusSent, IsOutbound: true,
	}
	m2 := chat.Message{
		ID: uuid.New().String(), Content: "yep, new address though",
		SenderID: stable, ReceiverID: anna.addr,
		Timestamp: time.Now(), Status: chat.StatusDelivered,
	}
	rec.Apply(m1, "")
	conv := rec.Apply(m2, "Ben")
	fmt.Printf("  sent to %s, received from %s five minutes later\n", transient, stable.Short())
	fmt.Printf("  conversations: %d, canonical=%s (stable=%v), name=%q\n",
		len(rec.Conversations()), conv.CanonicalID.Short(),
		conv.CanonicalID.IsStable(), conv.DisplayName)
	fmt.Println()

	fmt.Println("Simulation complete.")
}

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	callMessage       = 2
	callResultMessage = 3
	callErrorMessage  = 4
)

// SimulatorConfig holds the simulator configuration
type SimulatorConfig struct {
	ServerURL       string
	ChargePointID   string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	IdTag           string
	ConnectorCount  int
	// PowerW is the simulated charging power.
	PowerW         float64
	VoltageV       float64
	SampleInterval time.Duration
	Timeout        time.Duration
}

// transaction is a charging transaction the central system accepted.
type transaction struct {
	id          int
	connectorID int
	idTag       string
	meterWh     float64
	started     time.Time
	stop        chan struct{}
	done        chan struct{}
}

// Simulator simulates an OCPP 1.6 charge point
type Simulator struct {
	config *SimulatorConfig
	conn   *websocket.Conn
	log    *zap.Logger

	heartbeatInterval int

	messageID   int
	pendingMsgs map[string]chan callResponse
	txs         map[int]*transaction
	mu          sync.Mutex
	writeMu     sync.Mutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type callResponse struct {
	payload json.RawMessage
	err     error
}

// NewSimulator creates a new charge point simulator
func NewSimulator(config *SimulatorConfig, log *zap.Logger) *Simulator {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = 10 * time.Second
	}
	return &Simulator{
		config:            config,
		log:               log,
		pendingMsgs:       make(map[string]chan callResponse),
		txs:               make(map[int]*transaction),
		stopChan:          make(chan struct{}),
		heartbeatInterval: 300,
	}
}

// Connect dials the central system and sends BootNotification.
func (s *Simulator) Connect() error {
	url := strings.TrimSuffix(s.config.ServerURL, "/") + "/" + s.config.ChargePointID

	dialer := websocket.Dialer{
		Subprotocols:     []string{"ocpp1.6"},
		HandshakeTimeout: s.config.Timeout,
	}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.conn = conn
	s.log.Info("Connected to OCPP server",
		zap.String("url", url),
		zap.String("subprotocol", conn.Subprotocol()),
	)

	s.wg.Add(1)
	go s.readMessages()

	var boot struct {
		Status   string `json:"status"`
		Interval int    `json:"interval"`
	}
	if err := s.sendCall("BootNotification", map[string]interface{}{
		"chargePointVendor":       s.config.Vendor,
		"chargePointModel":        s.config.Model,
		"chargePointSerialNumber": s.config.SerialNumber,
		"firmwareVersion":         s.config.FirmwareVersion,
	}, &boot); err != nil {
		return fmt.Errorf("boot notification: %w", err)
	}
	s.log.Info("BootNotification response", zap.String("status", boot.Status), zap.Int("interval", boot.Interval))
	if boot.Interval > 0 {
		s.heartbeatInterval = boot.Interval
	}

	for i := 1; i <= s.config.ConnectorCount; i++ {
		s.sendStatusNotification(i, "Available")
	}

	s.wg.Add(1)
	go s.heartbeatLoop()
	return nil
}

// Stop ends running transactions and closes the connection.
func (s *Simulator) Stop() {
	s.mu.Lock()
	var connectors []int
	for _, tx := range s.txs {
		connectors = append(connectors, tx.connectorID)
	}
	s.mu.Unlock()
	for _, c := range connectors {
		if err := s.StopCharging(c, "Local"); err != nil {
			s.log.Warn("Failed to stop transaction", zap.Int("connector_id", c), zap.Error(err))
		}
	}

	s.stopOnce.Do(func() { close(s.stopChan) })
	if s.conn != nil {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	}
	s.wg.Wait()
}

func (s *Simulator) readMessages() {
	defer s.wg.Done()
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Error("Read error", zap.Error(err))
			}
			s.failPending(err)
			return
		}
		s.handleMessage(message)
	}
}

func (s *Simulator) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pendingMsgs {
		ch <- callResponse{err: err}
		delete(s.pendingMsgs, id)
	}
}

func (s *Simulator) handleMessage(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 3 {
		s.log.Error("Invalid message", zap.ByteString("data", data))
		return
	}

	var msgType int
	var msgID string
	if json.Unmarshal(raw[0], &msgType) != nil || json.Unmarshal(raw[1], &msgID) != nil {
		s.log.Error("Invalid message header", zap.ByteString("data", data))
		return
	}

	switch msgType {
	case callMessage:
		var action string
		_ = json.Unmarshal(raw[2], &action)
		s.log.Info("Received server request", zap.String("action", action))
		// Central system initiated calls are outside this simulator.
		s.send([]interface{}{callErrorMessage, msgID, "NotImplemented", "action " + action + " is not supported", struct{}{}})

	case callResultMessage:
		s.resolve(msgID, callResponse{payload: raw[2]})

	case callErrorMessage:
		var code, desc string
		_ = json.Unmarshal(raw[2], &code)
		if len(raw) > 3 {
			_ = json.Unmarshal(raw[3], &desc)
		}
		s.resolve(msgID, callResponse{err: fmt.Errorf("%s: %s", code, desc)})
	}
}

func (s *Simulator) resolve(msgID string, resp callResponse) {
	s.mu.Lock()
	ch, ok := s.pendingMsgs[msgID]
	delete(s.pendingMsgs, msgID)
	s.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// --- Outgoing Messages ---

func (s *Simulator) send(msg []interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// sendCall sends a Call and decodes the CallResult payload into out.
func (s *Simulator) sendCall(action string, payload, out interface{}) error {
	s.mu.Lock()
	s.messageID++
	msgID := strconv.Itoa(s.messageID)
	responseChan := make(chan callResponse, 1)
	s.pendingMsgs[msgID] = responseChan
	s.mu.Unlock()

	if err := s.send([]interface{}{callMessage, msgID, action, payload}); err != nil {
		s.resolve(msgID, callResponse{})
		return err
	}

	select {
	case resp := <-responseChan:
		if resp.err != nil {
			return resp.err
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.payload, out)
	case <-time.After(s.config.Timeout):
		s.resolve(msgID, callResponse{})
		return fmt.Errorf("timeout waiting for %s response", action)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Simulator) sendHeartbeat() {
	if err := s.sendCall("Heartbeat", struct{}{}, nil); err != nil {
		s.log.Warn("Heartbeat failed", zap.Error(err))
	}
}

func (s *Simulator) sendStatusNotification(connectorID int, status string) {
	err := s.sendCall("StatusNotification", map[string]interface{}{
		"connectorId": connectorID,
		"errorCode":   "NoError",
		"status":      status,
		"timestamp":   timestamp(),
	}, nil)
	if err != nil {
		s.log.Warn("StatusNotification failed", zap.Int("connector_id", connectorID), zap.Error(err))
	}
}

type idTagInfo struct {
	Status string `json:"status"`
}

// Authorize asks the central system to validate idTag.
func (s *Simulator) Authorize(idTag string) (string, error) {
	var resp struct {
		IdTagInfo idTagInfo `json:"idTagInfo"`
	}
	if err := s.sendCall("Authorize", map[string]interface{}{"idTag": idTag}, &resp); err != nil {
		return "", err
	}
	return resp.IdTagInfo.Status, nil
}

// StartCharging starts a transaction on connectorID and samples meter values
// until it is stopped.
func (s *Simulator) StartCharging(connectorID int, idTag string) (int, error) {
	s.mu.Lock()
	for _, tx := range s.txs {
		if tx.connectorID == connectorID {
			s.mu.Unlock()
			return 0, fmt.Errorf("connector %d already charging", connectorID)
		}
	}
	s.mu.Unlock()

	s.sendStatusNotification(connectorID, "Preparing")

	var resp struct {
		TransactionId int       `json:"transactionId"`
		IdTagInfo     idTagInfo `json:"idTagInfo"`
	}
	if err := s.sendCall("StartTransaction", map[string]interface{}{
		"connectorId": connectorID,
		"idTag":       idTag,
		"meterStart":  0,
		"timestamp":   timestamp(),
	}, &resp); err != nil {
		return 0, err
	}
	if resp.IdTagInfo.Status != "Accepted" {
		s.sendStatusNotification(connectorID, "Available")
		return 0, fmt.Errorf("transaction rejected: %s", resp.IdTagInfo.Status)
	}

	tx := &transaction{
		id:          resp.TransactionId,
		connectorID: connectorID,
		idTag:       idTag,
		started:     time.Now(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.mu.Lock()
	s.txs[tx.id] = tx
	s.mu.Unlock()

	s.sendStatusNotification(connectorID, "Charging")
	s.wg.Add(1)
	go s.meterLoop(tx)

	s.log.Info("Transaction started",
		zap.Int("transaction_id", tx.id),
		zap.Int("connector_id", connectorID),
	)
	return tx.id, nil
}

// StopCharging stops the transaction running on connectorID.
func (s *Simulator) StopCharging(connectorID int, reason string) error {
	s.mu.Lock()
	var tx *transaction
	for _, t := range s.txs {
		if t.connectorID == connectorID {
			tx = t
			break
		}
	}
	if tx != nil {
		delete(s.txs, tx.id)
	}
	s.mu.Unlock()
	if tx == nil {
		return errors.New("no transaction on connector")
	}

	close(tx.stop)
	<-tx.done

	err := s.sendCall("StopTransaction", map[string]interface{}{
		"transactionId":   tx.id,
		"idTag":           tx.idTag,
		"meterStop":       int(tx.meterWh),
		"timestamp":       timestamp(),
		"reason":          reason,
		"transactionData": []interface{}{s.meterValue(tx, "Transaction.End")},
	}, nil)
	if err != nil {
		return err
	}
	s.sendStatusNotification(connectorID, "Finishing")
	s.sendStatusNotification(connectorID, "Available")

	s.log.Info("Transaction stopped",
		zap.Int("transaction_id", tx.id),
		zap.Float64("energy_wh", tx.meterWh),
		zap.Duration("duration", time.Since(tx.started)),
	)
	return nil
}

func (s *Simulator) meterLoop(tx *transaction) {
	defer s.wg.Done()
	defer close(tx.done)

	ticker := time.NewTicker(s.config.SampleInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-tx.stop:
			tx.meterWh += s.config.PowerW * time.Since(last).Hours()
			return
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			tx.meterWh += s.config.PowerW * now.Sub(last).Hours()
			last = now
			err := s.sendCall("MeterValues", map[string]interface{}{
				"connectorId":   tx.connectorID,
				"transactionId": tx.id,
				"meterValue":    []interface{}{s.meterValue(tx, "Sample.Periodic")},
			}, nil)
			if err != nil {
				s.log.Warn("MeterValues failed", zap.Int("transaction_id", tx.id), zap.Error(err))
			}
		}
	}
}

// meterValue builds one sample carrying energy, power, current and voltage.
func (s *Simulator) meterValue(tx *transaction, context string) map[string]interface{} {
	amps := 0.0
	if s.config.VoltageV > 0 {
		amps = s.config.PowerW / s.config.VoltageV
	}
	sample := func(measurand, unit string, value float64) map[string]interface{} {
		return map[string]interface{}{
			"value":     strconv.FormatFloat(value, 'f', 1, 64),
			"context":   context,
			"measurand": measurand,
			"location":  "Outlet",
			"unit":      unit,
		}
	}
	return map[string]interface{}{
		"timestamp": timestamp(),
		"sampledValue": []interface{}{
			sample("Energy.Active.Import.Register", "Wh", tx.meterWh),
			sample("Power.Active.Import", "W", s.config.PowerW),
			sample("Current.Import", "A", amps),
			sample("Voltage", "V", s.config.VoltageV),
		},
	}
}

func (s *Simulator) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.heartbeatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sendHeartbeat()
		}
	}
}

// RunSession authorizes, charges for d, then stops.
func (s *Simulator) RunSession(connectorID int, idTag string, d time.Duration) error {
	status, err := s.Authorize(idTag)
	if err != nil {
		return err
	}
	if status != "Accepted" {
		return fmt.Errorf("id tag %s not accepted: %s", idTag, status)
	}
	if _, err := s.StartCharging(connectorID, idTag); err != nil {
		return err
	}
	select {
	case <-time.After(d):
	case <-s.stopChan:
	}
	return s.StopCharging(connectorID, "Local")
}

// RunInteractive runs the simulator in interactive mode
func (s *Simulator) RunInteractive() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		parts := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}

		cmd, args := parts[0], parts[1:]
		connID := 1
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				connID = n
			}
		}

		switch cmd {
		case "authorize":
			tag := s.config.IdTag
			if len(args) > 0 {
				tag = args[0]
			}
			status, err := s.Authorize(tag)
			if err != nil {
				fmt.Printf("Authorize failed: %v\n", err)
			} else {
				fmt.Printf("Id tag %s: %s\n", tag, status)
			}

		case "start":
			tag := s.config.IdTag
			if len(args) > 1 {
				tag = args[1]
			}
			txID, err := s.StartCharging(connID, tag)
			if err != nil {
				fmt.Printf("Start failed: %v\n", err)
			} else {
				fmt.Printf("Started charging on connector %d, transaction %d\n", connID, txID)
			}

		case "stop":
			reason := "Local"
			if len(args) > 1 {
				reason = args[1]
			}
			if err := s.StopCharging(connID, reason); err != nil {
				fmt.Printf("Stop failed: %v\n", err)
			} else {
				fmt.Println("Stopped charging")
			}

		case "status":
			status := "Available"
			if len(args) > 1 {
				status = args[1]
			}
			s.sendStatusNotification(connID, status)
			fmt.Printf("Sent status %s for connector %d\n", status, connID)

		case "heartbeat":
			s.sendHeartbeat()
			fmt.Println("Sent heartbeat")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}

		fmt.Print("> ")
	}
}

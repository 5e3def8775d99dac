package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios []scenario
	selected  int
	status    string
	detail    string
	busy      bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"success", "Mint matching instrument and complete"},
			{"mismatch", "Mint wrong amount, expect INVALID_AMOUNT"},
			{"decline", "Mint with decline card, expect handler decline"},
			{"replay", "Complete twice with one idempotency key"},
			{"race", "Race one instrument across concurrent completes"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected < len(m.scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selected].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.detail = msg.detail
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "ucp-payments-go CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.detail != "" {
		fmt.Fprintf(b, "Detail: %s\n", m.detail)
	}
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status string
	detail string
}

func runScenarioCmd(name string) tea.Cmd {
	return func() tea.Msg {
		baseURL := strings.TrimRight(getenv("CHECKOUT_BASE_URL", "http://localhost:8080"), "/")
		res, err := runScenario(baseURL, name)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Scenario %s failed: %v", name, err)}
		}
		return scenarioResult{status: fmt.Sprintf("Scenario %s OK", name), detail: res}
	}
}

func runScenario(baseURL, name string) (string, error) {
	checkoutID := "checkout-" + uuid.NewString()[:8]
	switch name {
	case "success":
		if err := putState(baseURL, checkoutID, 2000, "USD"); err != nil {
			return "", err
		}
		instID, err := mint(baseURL, checkoutID, 2000, "USD", nil)
		if err != nil {
			return "", err
		}
		body, code, err := complete(baseURL, checkoutID, instID, "")
		if err != nil {
			return "", err
		}
		if code != http.StatusOK {
			return "", fmt.Errorf("complete returned %d: %s", code, body)
		}
		return body, nil

	case "mismatch":
		if err := putState(baseURL, checkoutID, 5000, "USD"); err != nil {
			return "", err
		}
		instID, err := mint(baseURL, checkoutID, 2500, "USD", nil)
		if err != nil {
			return "", err
		}
		body, code, err := complete(baseURL, checkoutID, instID, "")
		if err != nil {
			return "", err
		}
		if code != http.StatusBadRequest || !strings.Contains(body, "INVALID_AMOUNT") {
			return "", fmt.Errorf("expected INVALID_AMOUNT, got %d: %s", code, body)
		}
		return "got INVALID_AMOUNT as expected", nil

	case "decline":
		if err := putState(baseURL, checkoutID, 2000, "USD"); err != nil {
			return "", err
		}
		_, err := mint(baseURL, checkoutID, 2000, "USD", map[string]any{"cardNumber": "4000000000000002"})
		if err == nil {
			return "", fmt.Errorf("expected mint decline, got instrument")
		}
		return fmt.Sprintf("mint declined: %v", err), nil

	case "replay":
		if err := putState(baseURL, checkoutID, 2000, "USD"); err != nil {
			return "", err
		}
		instID, err := mint(baseURL, checkoutID, 2000, "USD", nil)
		if err != nil {
			return "", err
		}
		key := uuid.NewString()
		first, code, err := complete(baseURL, checkoutID, instID, key)
		if err != nil || code != http.StatusOK {
			return "", fmt.Errorf("first complete: %v (%d)", err, code)
		}
		second, code, err := complete(baseURL, checkoutID, instID, key)
		if err != nil || code != http.StatusOK {
			return "", fmt.Errorf("second complete: %v (%d)", err, code)
		}
		if first != second {
			return "", fmt.Errorf("replay returned a different result")
		}
		return "both calls returned the identical order", nil

	case "race":
		if err := putState(baseURL, checkoutID, 2000, "USD"); err != nil {
			return "", err
		}
		instID, err := mint(baseURL, checkoutID, 2000, "USD", nil)
		if err != nil {
			return "", err
		}
		const n = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
			used    int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				body, code, err := complete(baseURL, checkoutID, instID, "")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil && code == http.StatusOK:
					success++
				case strings.Contains(body, "INSTRUMENT_ALREADY_USED") || strings.Contains(body, "CHECKOUT_ALREADY_COMPLETED"):
					used++
				}
			}()
		}
		wg.Wait()
		return fmt.Sprintf("%d/%d success, %d rejected", success, n, used), nil

	default:
		return "", fmt.Errorf("unknown scenario %q", name)
	}
}

func putState(baseURL, checkoutID string, total int64, currency string) error {
	body := map[string]any{
		"lineItems":   []map[string]any{{"productId": "sku-1", "quantity": 1, "price": total}},
		"totalAmount": total,
		"currency":    currency,
	}
	_, code, err := doJSON(http.MethodPut, baseURL+"/checkout/"+checkoutID+"/state", body, "")
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("put state returned %d", code)
	}
	return nil
}

func mint(baseURL, checkoutID string, amount int64, currency string, paymentData map[string]any) (string, error) {
	body := map[string]any{"handlerId": "com.ucp.sandbox", "amount": amount, "currency": currency}
	if paymentData != nil {
		body["paymentData"] = paymentData
	}
	respBody, code, err := doJSON(http.MethodPost, baseURL+"/checkout/"+checkoutID+"/mint", body, "")
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("mint returned %d: %s", code, respBody)
	}
	var resp struct {
		Instrument struct {
			ID string `json:"id"`
		} `json:"instrument"`
	}
	if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
		return "", err
	}
	return resp.Instrument.ID, nil
}

func complete(baseURL, checkoutID, instrumentID, idemKey string) (string, int, error) {
	body := map[string]any{"instrumentId": instrumentID}
	if idemKey != "" {
		body["idempotencyKey"] = idemKey
	}
	return doJSON(http.MethodPost, baseURL+"/checkout/"+checkoutID+"/complete", body, idemKey)
}

func doJSON(method, url string, payload any, idemKey string) (string, int, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body), resp.StatusCode, nil
}

func main() {
	runCmd := flag.String("run", "", "run scenario: success|mismatch|decline|replay|race")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.detail != "" {
			fmt.Println(res.detail)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

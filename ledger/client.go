package ledger

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"derby-service/models"
)

const (
	// lockedContractsSignal Canton本地沙盒在并发提交命中合约锁时返回的错误码
	lockedContractsSignal = "LOCAL_VERDICT_LOCKED_CONTRACTS"

	// conflictRetries 瞬时冲突的最大重试次数
	conflictRetries = 3
)

// Contract 活跃合约句柄: 合约id + 原始payload
type Contract struct {
	ContractID string
	TemplateID string
	Payload    json.RawMessage
}

// APIError 账本JSON API返回的非2xx响应
type APIError struct {
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger API %s failed: status %d: %s", e.Path, e.Status, e.Body)
}

// Client Daml JSON API客户端
type Client struct {
	baseURL     string
	accessToken string
	client      *http.Client

	// retryDelay 冲突重试间隔(默认1秒，测试中可缩短)
	retryDelay time.Duration
}

// NewClient 创建账本客户端
// accessToken为空时不发送Authorization头(本地沙盒)
func NewClient(baseURL, accessToken string) *Client {
	log.Printf("[Ledger] Initializing JSON API client for %s", baseURL)
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryDelay: time.Second,
	}
}

// doRequest 执行单次HTTP请求，不做重试
func (c *Client) doRequest(method, path string, body interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

// request 执行请求并处理瞬时合约锁冲突
// 账本对并发提交做悲观串行化，短暂争用会自行消退，固定1秒间隔重试
func (c *Client) request(method, path string, body interface{}) ([]byte, error) {
	respBody, status, err := c.doRequest(method, path, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusConflict && bytes.Contains(respBody, []byte(lockedContractsSignal)) {
		for attempt := 1; attempt <= conflictRetries; attempt++ {
			log.Printf("[Ledger] ⚠️  Contract locked on %s, retrying (%d/%d)...", path, attempt, conflictRetries)
			time.Sleep(c.retryDelay)

			respBody, status, err = c.doRequest(method, path, body)
			if err != nil {
				return nil, err
			}
			if status < 400 {
				return respBody, nil
			}
			if status != http.StatusConflict || !bytes.Contains(respBody, []byte(lockedContractsSignal)) {
				break
			}
		}
		if status == http.StatusConflict && bytes.Contains(respBody, []byte(lockedContractsSignal)) {
			return nil, &models.TransientConflictError{
				Path:     path,
				Attempts: conflictRetries + 1,
				Body:     string(respBody),
			}
		}
	}

	if status >= 400 {
		return nil, &APIError{Path: path, Status: status, Body: string(respBody)}
	}

	return respBody, nil
}

// LedgerEnd 获取账本末尾offset，作为一致性快照游标
func (c *Client) LedgerEnd() (int64, error) {
	respBody, err := c.request("GET", "/v2/state/ledger-end", nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		Offset int64 `json:"offset"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("parse ledger-end: %w", err)
	}
	return result.Offset, nil
}

// AllocateParty 为hint分配party
func (c *Client) AllocateParty(hint string) (string, error) {
	respBody, err := c.request("POST", "/v2/parties", map[string]interface{}{
		"partyIdHint": hint,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		PartyDetails struct {
			Party string `json:"party"`
		} `json:"partyDetails"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse allocate party response: %w", err)
	}
	if result.PartyDetails.Party == "" {
		return "", fmt.Errorf("allocate party returned empty party for hint=%s", hint)
	}
	return result.PartyDetails.Party, nil
}

// ListParties 列出已知party，filter为空时返回全部
func (c *Client) ListParties(filter string) ([]string, error) {
	path := "/v2/parties"
	if filter != "" {
		path += "?filter-party=" + url.QueryEscape(filter)
	}

	respBody, err := c.request("GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		PartyDetails []struct {
			Party string `json:"party"`
		} `json:"partyDetails"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse list parties response: %w", err)
	}

	parties := make([]string, 0, len(result.PartyDetails))
	for _, d := range result.PartyDetails {
		parties = append(parties, d.Party)
	}
	return parties, nil
}

// activeContracts 读取指定offset处party可见的活跃合约
func (c *Client) activeContracts(party string, activeAtOffset int64) ([]Contract, error) {
	respBody, err := c.request("POST", "/v2/state/active-contracts", map[string]interface{}{
		"activeAtOffset": activeAtOffset,
		"filter": map[string]interface{}{
			"filtersByParty": map[string]interface{}{
				party: map[string]interface{}{"cumulative": []interface{}{}},
			},
		},
		"verbose": true,
	})
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ContractEntry struct {
			JsActiveContract struct {
				CreatedEvent struct {
					ContractID     string          `json:"contractId"`
					TemplateID     string          `json:"templateId"`
					CreateArgument json.RawMessage `json:"createArgument"`
				} `json:"createdEvent"`
			} `json:"JsActiveContract"`
		} `json:"contractEntry"`
	}
	if err := json.Unmarshal(respBody, &entries); err != nil {
		return nil, fmt.Errorf("parse active contracts response: %w", err)
	}

	contracts := make([]Contract, 0, len(entries))
	for _, e := range entries {
		ev := e.ContractEntry.JsActiveContract.CreatedEvent
		if ev.ContractID == "" {
			continue
		}
		contracts = append(contracts, Contract{
			ContractID: ev.ContractID,
			TemplateID: ev.TemplateID,
			Payload:    ev.CreateArgument,
		})
	}
	return contracts, nil
}

// ListActiveByTemplate 按模板过滤party的活跃合约
// 先取ledger-end游标再查询，保证同一逻辑步骤内的读取是一致快照
func (c *Client) ListActiveByTemplate(party, templateID string) ([]Contract, error) {
	offset, err := c.LedgerEnd()
	if err != nil {
		return nil, err
	}

	all, err := c.activeContracts(party, offset)
	if err != nil {
		return nil, err
	}

	var matched []Contract
	for _, contract := range all {
		if contract.TemplateID == templateID {
			matched = append(matched, contract)
		}
	}
	return matched, nil
}

// txTreeResponse submit-and-wait-for-transaction-tree的响应
type txTreeResponse struct {
	TransactionTree struct {
		EventsByID map[string]struct {
			CreatedTreeEvent *struct {
				Value struct {
					ContractID string `json:"contractId"`
				} `json:"value"`
			} `json:"CreatedTreeEvent"`
			ExercisedTreeEvent *struct {
				Value struct {
					Choice         string          `json:"choice"`
					ExerciseResult json.RawMessage `json:"exerciseResult"`
				} `json:"value"`
			} `json:"ExercisedTreeEvent"`
		} `json:"eventsById"`
	} `json:"transactionTree"`
}

// submitAndWait 提交命令并等待事务树
func (c *Client) submitAndWait(kind, actAs string, commands []interface{}) (*txTreeResponse, error) {
	respBody, err := c.request("POST", "/v2/commands/submit-and-wait-for-transaction-tree", map[string]interface{}{
		"commandId": newCommandID(kind),
		"userId":    "backend",
		"actAs":     []string{actAs},
		"commands":  commands,
	})
	if err != nil {
		return nil, err
	}

	var result txTreeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse transaction tree: %w", err)
	}
	return &result, nil
}

// Create 创建合约，返回新合约id
func (c *Client) Create(party, templateID string, args map[string]interface{}) (string, error) {
	tree, err := c.submitAndWait("create", party, []interface{}{
		map[string]interface{}{
			"CreateCommand": map[string]interface{}{
				"templateId":      templateID,
				"createArguments": args,
			},
		},
	})
	if err != nil {
		return "", err
	}

	for _, node := range tree.TransactionTree.EventsByID {
		if node.CreatedTreeEvent != nil && node.CreatedTreeEvent.Value.ContractID != "" {
			return node.CreatedTreeEvent.Value.ContractID, nil
		}
	}
	return "", fmt.Errorf("create of %s did not return a CreatedTreeEvent", templateID)
}

// Exercise 在合约上执行choice，返回choice结果(可能为空)
func (c *Client) Exercise(party, templateID, contractID, choice string, args map[string]interface{}) (json.RawMessage, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	tree, err := c.submitAndWait("ex", party, []interface{}{
		map[string]interface{}{
			"ExerciseCommand": map[string]interface{}{
				"templateId":     templateID,
				"contractId":     contractID,
				"choice":         choice,
				"choiceArgument": args,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	for _, node := range tree.TransactionTree.EventsByID {
		if node.ExercisedTreeEvent != nil && node.ExercisedTreeEvent.Value.Choice == choice {
			return node.ExercisedTreeEvent.Value.ExerciseResult, nil
		}
	}

	// 部分choice没有返回值
	return nil, nil
}

// newCommandID 生成唯一命令id
func newCommandID(kind string) string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return fmt.Sprintf("%s-%d-%s", kind, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

package rpc

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/heliolabs/rollup/common"
	"github.com/heliolabs/rollup/executor"
	"github.com/heliolabs/rollup/ledger"
	"github.com/heliolabs/rollup/node"
	"github.com/heliolabs/rollup/sequencer"
	"github.com/heliolabs/rollup/settlement"
)

func newTestServer(t *testing.T) (*Server, *ledger.Ledger) {
	t.Helper()
	accounts, err := ledger.New(ledger.NewMemoryStore(), nil)
	require.NoError(t, err)
	client := settlement.NewMockClient(gomock.NewController(t))
	seq := sequencer.New(client, nil, sequencer.Config{}, nil)
	n := node.New(accounts, executor.New(accounts, nil), seq, nil)
	return NewServer(n, nil), accounts
}

func fundedSender(t *testing.T, accounts *ledger.Ledger, balance uint64) (common.Address, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var sender common.Address
	copy(sender[:], pub)
	require.NoError(t, accounts.Apply(ledger.Update{Accounts: []ledger.AccountUpdate{
		{ID: sender, Record: ledger.AccountRecord{Balance: balance, Owner: common.SystemProgramID}},
	}}))
	return sender, priv
}

func submitBody(t *testing.T, key ed25519.PrivateKey, from, to common.Address, amount, nonce uint64) []byte {
	t.Helper()
	tx := &executor.Transaction{
		From:  from,
		Keys:  []common.Address{to},
		Data:  executor.TransferData(amount),
		Nonce: nonce,
	}
	require.NoError(t, executor.Sign(tx, key))

	body, err := json.Marshal(submitRequest{
		Signature: tx.Signature.String(),
		From:      tx.From.String(),
		Keys:      []string{to.String()},
		Data:      tx.Data,
		Nonce:     tx.Nonce,
	})
	require.NoError(t, err)
	return body
}

func postTransaction(t *testing.T, server *Server, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/transactions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func TestServer_SubmitReturnsReceipt(t *testing.T) {
	require := require.New(t)
	server, accounts := newTestServer(t)
	sender, key := fundedSender(t, accounts, 100)

	resp := postTransaction(t, server, submitBody(t, key, sender, common.Address{0xbb}, 40, 1))
	require.Equal(http.StatusOK, resp.StatusCode)

	var receipt receiptResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&receipt))
	require.Equal(uint64(1), receipt.Slot)
	require.NotEmpty(receipt.Signature)
}

func TestServer_ErrorTaxonomyMapsToStatusCodes(t *testing.T) {
	require := require.New(t)
	server, accounts := newTestServer(t)
	sender, key := fundedSender(t, accounts, 100)

	// Accepted once, so the same nonce afterwards is a replay.
	resp := postTransaction(t, server, submitBody(t, key, sender, common.Address{0xbb}, 10, 1))
	require.Equal(http.StatusOK, resp.StatusCode)

	resp = postTransaction(t, server, submitBody(t, key, sender, common.Address{0xbb}, 10, 1))
	require.Equal(http.StatusConflict, resp.StatusCode)

	resp = postTransaction(t, server, submitBody(t, key, sender, common.Address{0xbb}, 1_000_000, 2))
	require.Equal(http.StatusPaymentRequired, resp.StatusCode)

	// Signature from a key that does not match the sender.
	_, wrongKey := fundedSender(t, accounts, 0)
	resp = postTransaction(t, server, submitBody(t, wrongKey, sender, common.Address{0xbb}, 1, 2))
	require.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestServer_GetAccountReturnsRecord(t *testing.T) {
	require := require.New(t)
	server, accounts := newTestServer(t)
	sender, _ := fundedSender(t, accounts, 123)

	req, err := http.NewRequest(http.MethodGet, "/account/"+sender.String(), nil)
	require.NoError(err)
	resp, err := server.App().Test(req, 5000)
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)

	var account accountResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&account))
	require.Equal(uint64(123), account.Balance)
	require.Equal(common.SystemProgramID.String(), account.Owner)
}

func TestServer_UnknownAccountReadsAsZeroRecord(t *testing.T) {
	require := require.New(t)
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, "/account/"+common.Address{0xee}.String(), nil)
	require.NoError(err)
	resp, err := server.App().Test(req, 5000)
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)

	var account accountResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&account))
	require.Zero(account.Balance)
	require.False(account.Executable)
}

func TestServer_MalformedAccountIdIsBadRequest(t *testing.T) {
	require := require.New(t)
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, "/account/not-base58-!!", nil)
	require.NoError(err)
	resp, err := server.App().Test(req, 5000)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestServer_CommitmentEndpointTracksState(t *testing.T) {
	require := require.New(t)
	server, accounts := newTestServer(t)

	read := func() string {
		req, err := http.NewRequest(http.MethodGet, "/commitment", nil)
		require.NoError(err)
		resp, err := server.App().Test(req, 5000)
		require.NoError(err)
		require.Equal(http.StatusOK, resp.StatusCode)
		var body commitmentResponse
		require.NoError(json.NewDecoder(resp.Body).Decode(&body))
		return body.Commitment
	}

	before := read()
	fundedSender(t, accounts, 1)
	require.NotEqual(before, read())
}

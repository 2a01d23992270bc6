package polymarket

// auth.go - credenciales del CLOB de Polymarket.
//
// L1: firma EIP-712 (ClobAuth) con la clave de la wallet; sirve para obtener
// las credenciales de API.
// L2: HMAC-SHA256 con el secreto de API sobre cada petición autenticada.

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
)

const (
	polygonChainID = int64(137)

	clobAuthMessage = "This message attests that I control the given wallet"

	// SignatureGnosisSafe es el tipo de firma de las proxy wallets de
	// Polymarket. Cualquier otro valor firma como EOA.
	SignatureGnosisSafe = 2
)

var (
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
	// Dominio fijo: ClobAuthDomain, versión 1, Polygon.
	clobAuthDomain = crypto.Keccak256Hash(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId)")),
		crypto.Keccak256([]byte("ClobAuthDomain")),
		crypto.Keccak256([]byte("1")),
		common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32),
	)
)

// errNoCreds se devuelve al firmar L2 antes de EnsureCreds.
var errNoCreds = errors.New("credentials not derived yet")

type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient añade al Client la firma L1/L2 y la construcción de órdenes.
type AuthClient struct {
	*Client
	privateKey    *ecdsa.PrivateKey
	signer        common.Address
	funder        common.Address // maker; distinto del signer en proxy wallets
	signatureType int
	orderBuilder  builder.ExchangeOrderBuilder

	mu    sync.Mutex
	creds *apiCredentials
}

// NewAuthClient crea el cliente autenticado. La clave puede llevar 0x.
// funder vacío significa que el propio signer guarda los fondos.
func NewAuthClient(client *Client, privateKeyHex, funder string, signatureType int) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewAuthClient: private key: %w", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	maker := signer
	if funder != "" {
		if !common.IsHexAddress(funder) {
			return nil, fmt.Errorf("polymarket.NewAuthClient: invalid funder address %q", funder)
		}
		maker = common.HexToAddress(funder)
	}
	return &AuthClient{
		Client:        client,
		privateKey:    key,
		signer:        signer,
		funder:        maker,
		signatureType: signatureType,
		orderBuilder:  builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address devuelve la dirección que firma.
func (ac *AuthClient) Address() string { return ac.signer.Hex() }

// Funder devuelve la dirección que guarda colateral y tokens.
func (ac *AuthClient) Funder() string { return ac.funder.Hex() }

// EnsureCreds obtiene las credenciales de API una sola vez. Primero intenta
// derivar la clave existente; si el CLOB no tiene ninguna para esta wallet,
// la crea.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds != nil {
		return nil
	}

	var creds apiCredentials
	derr := ac.l1(ctx, http.MethodGet, "/auth/derive-api-key", &creds)
	if derr != nil || creds.APIKey == "" {
		creds = apiCredentials{}
		if cerr := ac.l1(ctx, http.MethodPost, "/auth/api-key", &creds); cerr != nil {
			return fmt.Errorf("polymarket.EnsureCreds: derive: %v; create: %w", derr, cerr)
		}
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return errors.New("polymarket.EnsureCreds: empty credentials")
	}
	ac.creds = &creds
	return nil
}

// apiKey devuelve la clave de API, vacía antes de EnsureCreds.
func (ac *AuthClient) apiKey() string {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds == nil {
		return ""
	}
	return ac.creds.APIKey
}

// l1 hace una petición firmada con ClobAuth (nonce 0).
func (ac *AuthClient) l1(ctx context.Context, method, path string, out any) error {
	return ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Response, error) {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig, err := crypto.Sign(clobAuthDigest(ac.signer, ts, 0).Bytes(), ac.privateKey)
		if err != nil {
			return nil, fmt.Errorf("sign clob auth: %w", err)
		}
		sig[64] += 27

		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("POLY_ADDRESS", ac.signer.Hex())
		req.Header.Set("POLY_SIGNATURE", "0x"+hex.EncodeToString(sig))
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_NONCE", "0")
		return ac.http.Do(req)
	}, out)
}

// clobAuthDigest es el hash EIP-712 del mensaje ClobAuth.
func clobAuthDigest(signer common.Address, timestamp string, nonce int64) common.Hash {
	structHash := crypto.Keccak256Hash(
		clobAuthTypeHash.Bytes(),
		common.LeftPadBytes(signer.Bytes(), 32),
		crypto.Keccak256([]byte(timestamp)),
		common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32),
		crypto.Keccak256([]byte(clobAuthMessage)),
	)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, clobAuthDomain.Bytes(), structHash.Bytes())
}

// signL2 añade las cabeceras HMAC. Se firma solo el path; la query viaja sin
// firmar.
func (ac *AuthClient) signL2(h http.Header, method, path string, body []byte) error {
	ac.mu.Lock()
	creds := ac.creds
	ac.mu.Unlock()
	if creds == nil {
		return errNoCreds
	}
	secret, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + strings.ToUpper(method) + path))
	mac.Write(body)

	h.Set("POLY_ADDRESS", ac.signer.Hex())
	h.Set("POLY_SIGNATURE", base64.URLEncoding.EncodeToString(mac.Sum(nil)))
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_API_KEY", creds.APIKey)
	h.Set("POLY_PASSPHRASE", creds.Passphrase)
	return nil
}

// doL2 hace una petición autenticada con los retries del Client. La firma se
// regenera en cada intento para que el timestamp no caduque.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	if ac.apiKey() == "" {
		return errNoCreds
	}
	var body []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = b
	}
	target := ac.clobBase + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(string(body)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if err := ac.signL2(req.Header, method, path, body); err != nil {
			return nil, err
		}
		return ac.http.Do(req)
	}, out)
}

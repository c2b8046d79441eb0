package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/skip2/go-qrcode"

	"github.com/amaydixit11/cowrite/internal/core"
)

// InvitePrefix is the URL scheme for room invites
const InvitePrefix = "cowrite://"

// DefaultInviteExpiry is how long invites are valid
const DefaultInviteExpiry = 24 * time.Hour

// ErrInviteExpired is returned when parsing an expired invite.
var ErrInviteExpired = errors.New("invite expired")

// RoomInvite lets a peer join a room by dialing the inviter directly,
// without any rendezvous service. It is signed with the inviter's libp2p
// identity key.
type RoomInvite struct {
	Room      core.RoomID `json:"r"`
	PeerID    string      `json:"p"`
	Addresses []string    `json:"a"`
	PublicKey []byte      `json:"k"`
	CreatedAt int64       `json:"c"`
	ExpiresAt int64       `json:"e"`
	Signature []byte      `json:"s"`
}

// CreateInvite generates a signed invite to room for host h.
func CreateInvite(h host.Host, room core.RoomID, expiry time.Duration) (*RoomInvite, error) {
	now := time.Now()

	// at most two addresses, non-loopback first, to keep the QR code small
	addrs := h.Addrs()
	addrStrs := make([]string, 0, 2)
	for _, a := range addrs {
		str := a.String()
		if !strings.Contains(str, "127.0.0.1") && !strings.Contains(str, "/::1/") {
			addrStrs = append(addrStrs, str)
			if len(addrStrs) >= 2 {
				break
			}
		}
	}
	if len(addrStrs) == 0 && len(addrs) > 0 {
		addrStrs = append(addrStrs, addrs[0].String())
	}

	pubKey := h.Peerstore().PubKey(h.ID())
	if pubKey == nil {
		return nil, fmt.Errorf("no public key found")
	}
	pubKeyBytes, err := crypto.MarshalPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	invite := &RoomInvite{
		Room:      room,
		PeerID:    h.ID().String(),
		Addresses: addrStrs,
		PublicKey: pubKeyBytes,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(expiry).Unix(),
	}

	privKey := h.Peerstore().PrivKey(h.ID())
	if privKey == nil {
		return nil, fmt.Errorf("no private key found")
	}
	sig, err := privKey.Sign(invite.signableData())
	if err != nil {
		return nil, fmt.Errorf("failed to sign invite: %w", err)
	}
	invite.Signature = sig
	return invite, nil
}

func (i *RoomInvite) signableData() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d|%d",
		i.Room,
		i.PeerID,
		strings.Join(i.Addresses, ","),
		i.CreatedAt,
		i.ExpiresAt,
	))
}

// Encode serializes the invite to a compact string
func (i *RoomInvite) Encode() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	return InvitePrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// ToQR renders the encoded invite as a PNG QR code.
func (i *RoomInvite) ToQR() ([]byte, error) {
	code, err := i.Encode()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(code, qrcode.Low, 512)
}

// ToQRString renders the encoded invite as a QR code for the terminal.
func (i *RoomInvite) ToQRString() (string, error) {
	code, err := i.Encode()
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// IsInvite reports whether s looks like an encoded invite.
func IsInvite(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), InvitePrefix)
}

// ParseInvite decodes an invite and verifies its expiry and signature.
func ParseInvite(s string) (*RoomInvite, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, InvitePrefix) {
		return nil, fmt.Errorf("invalid invite format: missing prefix")
	}
	jsonData, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, InvitePrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid invite encoding: %w", err)
	}

	var invite RoomInvite
	if err := json.Unmarshal(jsonData, &invite); err != nil {
		return nil, fmt.Errorf("invalid invite data: %w", err)
	}
	if !invite.Room.Valid() {
		return nil, fmt.Errorf("invalid invite room %q", invite.Room)
	}
	if invite.IsExpired() {
		return nil, ErrInviteExpired
	}

	pubKey, err := crypto.UnmarshalPublicKey(invite.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	valid, err := pubKey.Verify(invite.signableData(), invite.Signature)
	if err != nil || !valid {
		return nil, fmt.Errorf("invalid signature")
	}

	derivedID, err := peer.IDFromPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer ID: %w", err)
	}
	if derivedID.String() != invite.PeerID {
		return nil, fmt.Errorf("peer ID mismatch")
	}
	return &invite, nil
}

// PeerAddrs returns the inviter's addresses with the /p2p/ component, ready
// for a StaticRendezvous.
func (i *RoomInvite) PeerAddrs() []string {
	out := make([]string, 0, len(i.Addresses))
	for _, a := range i.Addresses {
		out = append(out, a+"/p2p/"+i.PeerID)
	}
	return out
}

// IsExpired returns true if the invite has expired
func (i *RoomInvite) IsExpired() bool {
	return time.Now().Unix() > i.ExpiresAt
}

// ExpiresIn returns the duration until the invite expires
func (i *RoomInvite) ExpiresIn() time.Duration {
	return time.Until(time.Unix(i.ExpiresAt, 0))
}

package session

import (
	"crypto/sha1" //nolint:gosec // mysql_native_password is specified to use SHA-1
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// readPacket reads one MySQL packet: 3-byte length + 1-byte sequence + payload.
func readPacket(conn net.Conn) (payload []byte, seq byte, err error) {
	hdr := make([]byte, 4)
	if _, err = io.ReadFull(conn, hdr); err != nil {
		return nil, 0, err
	}
	length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	seq = hdr[3]
	if length == 0 {
		return []byte{}, seq, nil
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(conn, payload); err != nil {
		return nil, seq, err
	}
	return payload, seq, nil
}

// writePacket writes one MySQL packet with the given sequence number.
func writePacket(conn net.Conn, payload []byte, seq byte) error {
	hdr := make([]byte, 4)
	length := len(payload)
	hdr[0] = byte(length)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length >> 16)
	hdr[3] = seq
	buf := append(hdr, payload...)
	_, err := conn.Write(buf)
	return err
}

// handshakeV10 is the subset of Protocol::HandshakeV10 this package needs.
type handshakeV10 struct {
	authData   []byte
	capFlags   uint32
	pluginName string
}

// parseHandshakeV10 parses the server's initial handshake packet.
// Format: protocol_version(1) + server_version(null-term) + conn_id(4) +
// auth_plugin_data_1(8) + filler(1) + capability_flags_1(2) +
// character_set(1) + status_flags(2) + capability_flags_2(2) +
// auth_plugin_data_len(1) + reserved(10) + auth_plugin_data_2 +
// auth_plugin_name(null-term, if CLIENT_PLUGIN_AUTH).
func parseHandshakeV10(pkt []byte) (handshakeV10, error) {
	if len(pkt) < 1 {
		return handshakeV10{}, fmt.Errorf("empty server handshake")
	}
	if pkt[0] == 0xff {
		return handshakeV10{}, fmt.Errorf("server sent error on connect: %s", parseErrPacket(pkt))
	}

	pos := 1
	for pos < len(pkt) && pkt[pos] != 0 {
		pos++
	}
	pos++
	if pos+4 > len(pkt) {
		return handshakeV10{}, fmt.Errorf("handshake packet too short")
	}
	pos += 4 // connection_id

	if pos+8 > len(pkt) {
		return handshakeV10{}, fmt.Errorf("handshake packet too short for auth data 1")
	}
	authData := make([]byte, 0, 20)
	authData = append(authData, pkt[pos:pos+8]...)
	pos += 8
	pos++ // filler

	if pos+2 > len(pkt) {
		return handshakeV10{}, fmt.Errorf("handshake packet too short for capability flags")
	}
	capLow := uint32(binary.LittleEndian.Uint16(pkt[pos : pos+2]))
	pos += 2

	if pos+3 > len(pkt) {
		return handshakeV10{}, fmt.Errorf("handshake packet too short for charset/status")
	}
	pos += 3 // charset(1) + status_flags(2)

	if pos+2 > len(pkt) {
		return handshakeV10{}, fmt.Errorf("handshake packet too short for capability flags high")
	}
	capHigh := uint32(binary.LittleEndian.Uint16(pkt[pos:pos+2])) << 16
	capFlags := capLow | capHigh
	pos += 2

	var authPluginDataLen int
	if pos < len(pkt) {
		authPluginDataLen = int(pkt[pos])
		pos++
	}
	pos += 10 // reserved

	part2Len := authPluginDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if pos+part2Len > len(pkt) {
		part2Len = len(pkt) - pos
	}
	if part2Len > 0 {
		part2 := pkt[pos : pos+part2Len]
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	pos += part2Len

	const clientPluginAuth = uint32(1 << 19)
	pluginName := "mysql_native_password"
	if capFlags&clientPluginAuth != 0 && pos < len(pkt) {
		end := pos
		for end < len(pkt) && pkt[end] != 0 {
			end++
		}
		pluginName = string(pkt[pos:end])
	}

	return handshakeV10{authData: authData, capFlags: capFlags, pluginName: pluginName}, nil
}

// handshakeResponse41 builds Protocol::HandshakeResponse41 authenticating
// with mysql_native_password.
func handshakeResponse41(username, dbname string, authResp []byte) []byte {
	const (
		clientLongPassword     = uint32(1)
		clientConnectWithDB    = uint32(8)
		clientProtocol41       = uint32(512)
		clientSecureConnection = uint32(32768)
		clientPluginAuth       = uint32(1 << 19)
	)
	clientCaps := clientLongPassword | clientProtocol41 | clientSecureConnection | clientPluginAuth | clientConnectWithDB

	var resp []byte
	capBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(capBuf, clientCaps)
	resp = append(resp, capBuf...)
	resp = append(resp, 0xff, 0xff, 0xff, 0x00) // max_packet_size
	resp = append(resp, 0x21)                   // utf8_general_ci
	resp = append(resp, make([]byte, 23)...)    // reserved
	resp = append(resp, []byte(username)...)
	resp = append(resp, 0)
	resp = append(resp, byte(len(authResp)))
	resp = append(resp, authResp...)
	resp = append(resp, []byte(dbname)...)
	resp = append(resp, 0)
	resp = append(resp, []byte("mysql_native_password")...)
	resp = append(resp, 0)
	return resp
}

// nativePasswordHash computes the mysql_native_password response:
// SHA1(password) XOR SHA1(authData + SHA1(SHA1(password))).
func nativePasswordHash(password, authData []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password) //nolint:gosec
	h2 := sha1.Sum(h1[:])    //nolint:gosec
	h := sha1.New()          //nolint:gosec
	h.Write(authData)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	result := make([]byte, 20)
	for i := range result {
		result[i] = h1[i] ^ h3[i]
	}
	return result
}

// parseErrPacket extracts the message from an ERR_Packet.
// Format: 0xff(1) + error_code(2) + '#'(1) + sqlstate(5) + message.
func parseErrPacket(pkt []byte) string {
	if len(pkt) < 9 {
		return "unknown error"
	}
	return string(pkt[9:])
}

// parseErrPacketDiag extracts code/sqlstate/message from an ERR_Packet into a Diagnostics.
func parseErrPacketDiag(pkt []byte) Diagnostics {
	if len(pkt) < 9 {
		return Diagnostics{Message: "unknown error"}
	}
	code := binary.LittleEndian.Uint16(pkt[1:3])
	sqlState := string(pkt[4:9])
	return Diagnostics{Code: code, SQLState: sqlState, Message: string(pkt[9:])}
}

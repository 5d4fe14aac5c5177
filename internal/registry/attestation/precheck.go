package attestation

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	dErrors "prefixd/pkg/domain-errors"
)

// Ed25519 program instruction layout:
//
//	[0]      number of signatures
//	[1]      padding
//	[2..]    one 14-byte offsets record per signature
//	rest     public keys, signatures and messages
//
// Each record holds seven little-endian u16 values: signature offset, signature
// instruction index, public key offset, public key instruction index, message offset,
// message size, message instruction index. Index 0xFFFF refers to the operation
// that carries the record.
const (
	headerSize       = 2
	offsetsSize      = 14
	currentOperation = 0xFFFF
)

type signatureOffsets struct {
	sigOffset, sigIndex uint16
	keyOffset, keyIndex uint16
	msgOffset, msgSize  uint16
	msgIndex            uint16
}

// Precheck verifies every Ed25519 operation in ops. A batch carrying any malformed or
// invalid signature operation is rejected as a whole.
func Precheck(ops []Operation) error {
	for i, op := range ops {
		if op.Program != Ed25519Program {
			continue
		}
		if err := verifyOperation(ops, i); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidEd25519Signature,
				fmt.Sprintf("signature operation %d rejected", i))
		}
	}
	return nil
}

func verifyOperation(ops []Operation, self int) error {
	data := ops[self].Data
	if len(data) < headerSize {
		return fmt.Errorf("operation too short")
	}
	count := int(data[0])
	if count == 0 {
		return fmt.Errorf("no signatures")
	}
	if len(data) < headerSize+count*offsetsSize {
		return fmt.Errorf("offsets truncated")
	}
	for n := 0; n < count; n++ {
		rec := data[headerSize+n*offsetsSize:]
		off := signatureOffsets{
			sigOffset: binary.LittleEndian.Uint16(rec[0:]),
			sigIndex:  binary.LittleEndian.Uint16(rec[2:]),
			keyOffset: binary.LittleEndian.Uint16(rec[4:]),
			keyIndex:  binary.LittleEndian.Uint16(rec[6:]),
			msgOffset: binary.LittleEndian.Uint16(rec[8:]),
			msgSize:   binary.LittleEndian.Uint16(rec[10:]),
			msgIndex:  binary.LittleEndian.Uint16(rec[12:]),
		}
		sig, err := slice(ops, self, off.sigIndex, off.sigOffset, ed25519.SignatureSize)
		if err != nil {
			return fmt.Errorf("signature %d: %w", n, err)
		}
		key, err := slice(ops, self, off.keyIndex, off.keyOffset, ed25519.PublicKeySize)
		if err != nil {
			return fmt.Errorf("public key %d: %w", n, err)
		}
		msg, err := slice(ops, self, off.msgIndex, off.msgOffset, int(off.msgSize))
		if err != nil {
			return fmt.Errorf("message %d: %w", n, err)
		}
		if !ed25519.Verify(ed25519.PublicKey(key), msg, sig) {
			return fmt.Errorf("signature %d does not verify", n)
		}
	}
	return nil
}

func slice(ops []Operation, self int, index, offset uint16, size int) ([]byte, error) {
	data := ops[self].Data
	if index != currentOperation {
		if int(index) >= len(ops) {
			return nil, fmt.Errorf("operation index %d out of range", index)
		}
		data = ops[index].Data
	}
	start := int(offset)
	if start+size > len(data) {
		return nil, fmt.Errorf("range %d+%d exceeds %d bytes", start, size, len(data))
	}
	return data[start : start+size], nil
}

// NewEd25519Operation builds a single-signature operation with key, signature and
// message inline, the layout produced by standard client helpers.
func NewEd25519Operation(priv ed25519.PrivateKey, message []byte) Operation {
	pub := priv.Public().(ed25519.PublicKey)
	sig := ed25519.Sign(priv, message)

	keyOffset := headerSize + offsetsSize
	sigOffset := keyOffset + ed25519.PublicKeySize
	msgOffset := sigOffset + ed25519.SignatureSize

	data := make([]byte, msgOffset+len(message))
	data[0] = 1
	rec := data[headerSize:]
	binary.LittleEndian.PutUint16(rec[0:], uint16(sigOffset))
	binary.LittleEndian.PutUint16(rec[2:], currentOperation)
	binary.LittleEndian.PutUint16(rec[4:], uint16(keyOffset))
	binary.LittleEndian.PutUint16(rec[6:], currentOperation)
	binary.LittleEndian.PutUint16(rec[8:], uint16(msgOffset))
	binary.LittleEndian.PutUint16(rec[10:], uint16(len(message)))
	binary.LittleEndian.PutUint16(rec[12:], currentOperation)
	copy(data[keyOffset:], pub)
	copy(data[sigOffset:], sig)
	copy(data[msgOffset:], message)

	return Operation{Program: Ed25519Program, Data: data}
}

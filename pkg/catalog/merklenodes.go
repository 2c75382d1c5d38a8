package catalog

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"io"

	"github.com/coldtree/coldtree/pkg/codec/cborcanon"
	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/hashing"
	"github.com/coldtree/coldtree/pkg/merkle"
)

// compressionThreshold is the children-blob size above which UpsertNode
// gzip-compresses it before storing (spec.md §4.3.3).
const compressionThreshold = 100

const compressionGzip = "GZIP"

// ListAllMerkleNodeHashes returns every node hash in the catalog, for the GC
// sweep's reachability pass (spec.md §4.6).
func (c *Catalog) ListAllMerkleNodeHashes(tx *Tx) ([]hashing.Digest, error) {
	rows, err := c.q(tx).Query(`SELECT hash FROM merkle_nodes`)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "list merkle node hashes", err)
	}
	defer rows.Close()

	var out []hashing.Digest
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan merkle node hash", err)
		}
		d, err := hashing.ParseHex(hex)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteMerkleNode removes one node row, used once the GC sweep has proven
// it unreachable from every snapshot root (spec.md §4.6).
func (c *Catalog) DeleteMerkleNode(tx *Tx, hash hashing.Digest) error {
	_, err := c.q(tx).Exec(`DELETE FROM merkle_nodes WHERE hash = ?`, hash.Hex())
	if err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "delete merkle node", err)
	}
	return nil
}

// wireChild is the canonical-CBOR-encoded form of a merkle.ChildSummary
// stored in merkle_nodes.children (spec.md §4.3.3).
type wireChild struct {
	Hash   string `cbor:"hash"`
	Type   string `cbor:"type"`
	Name   string `cbor:"name"`
	Size   int64  `cbor:"size"`
	FileID string `cbor:"file_id,omitempty"`
}

// NodeCatalog adapts *Catalog to merkle.NodeStore, optionally scoped to a
// transaction so Build can persist an entire snapshot's tree atomically.
type NodeCatalog struct {
	cat *Catalog
	tx  *Tx
}

// Nodes returns a merkle.NodeStore view of the catalog, scoped to tx (nil for
// auto-commit per call).
func (c *Catalog) Nodes(tx *Tx) *NodeCatalog {
	return &NodeCatalog{cat: c, tx: tx}
}

// UpsertNode persists n, encoding directory children as canonical CBOR
// (spec.md §4.3.3, §6.2 merkle_nodes table). Nodes are content-addressed by
// hash, so a repeat insert of the same hash is a no-op.
func (nc *NodeCatalog) UpsertNode(n *merkle.Node) error {
	var childrenBlob []byte
	var compression interface{}
	var fileID interface{}
	if n.Type == merkle.TypeDirectory {
		wire := make([]wireChild, len(n.Children))
		for i, ch := range n.Children {
			wire[i] = wireChild{Hash: ch.Hash.Hex(), Type: string(ch.Type), Name: ch.Name, Size: ch.Size, FileID: ch.FileID}
		}
		blob, err := cborcanon.Marshal(wire)
		if err != nil {
			return coldtreeerr.Wrap(coldtreeerr.CodeInternal, "encode merkle node children", err)
		}
		if len(blob) > compressionThreshold {
			gzipped, err := gzipBlob(blob)
			if err != nil {
				return coldtreeerr.Wrap(coldtreeerr.CodeInternal, "gzip merkle node children", err)
			}
			childrenBlob = gzipped
			compression = compressionGzip
		} else {
			childrenBlob = blob
		}
	} else {
		fileID = n.FileID
	}

	_, err := nc.cat.q(nc.tx).Exec(
		`INSERT INTO merkle_nodes (hash, type, name, size, children, file_id, compression)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		n.Hash.Hex(), string(n.Type), n.Name, n.Size, childrenBlob, fileID, compression,
	)
	if err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "upsert merkle node", err)
	}
	return nil
}

func gzipBlob(blob []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(blob); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBlob(blob []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// GetNode fetches a merkle node by hash, decoding directory children back
// from canonical CBOR.
func (nc *NodeCatalog) GetNode(hash hashing.Digest) (*merkle.Node, bool, error) {
	row := nc.cat.q(nc.tx).QueryRow(
		`SELECT type, name, size, children, COALESCE(file_id, ''), COALESCE(compression, '') FROM merkle_nodes WHERE hash = ?`, hash.Hex())

	var nodeType, name, fileID, compression string
	var size int64
	var childrenBlob []byte
	err := row.Scan(&nodeType, &name, &size, &childrenBlob, &fileID, &compression)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan merkle node", err)
	}

	n := &merkle.Node{Hash: hash, Type: merkle.NodeType(nodeType), Name: name, Size: size, FileID: fileID}
	if n.Type == merkle.TypeDirectory && len(childrenBlob) > 0 {
		if compression == compressionGzip {
			childrenBlob, err = gunzipBlob(childrenBlob)
			if err != nil {
				return nil, false, coldtreeerr.Wrap(coldtreeerr.CodeIntegrityError, "gunzip merkle node children", err)
			}
		}
		var wire []wireChild
		if err := cborcanon.Unmarshal(childrenBlob, &wire); err != nil {
			return nil, false, coldtreeerr.Wrap(coldtreeerr.CodeIntegrityError, "decode merkle node children", err)
		}
		n.Children = make([]merkle.ChildSummary, len(wire))
		for i, w := range wire {
			h, err := hashing.ParseHex(w.Hash)
			if err != nil {
				return nil, false, coldtreeerr.Wrap(coldtreeerr.CodeIntegrityError, "decode merkle child hash", err)
			}
			n.Children[i] = merkle.ChildSummary{Hash: h, Type: merkle.NodeType(w.Type), Name: w.Name, Size: w.Size, FileID: w.FileID}
		}
	}
	return n, true, nil
}

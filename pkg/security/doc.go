// Package security provides the cluster's certificate authority, join-token
// issuance, and the generic AES-256-GCM encryption helpers used to protect
// material persisted in the state store.
//
// CertAuthority holds a self-signed root (RSA-4096, 10-year validity) and
// issues short-lived node and client certificates (RSA-2048, 90-day
// validity) for the mTLS connections RPCFabric requires between the master
// and its nodes. The root key is never persisted in the clear: it is
// encrypted under a cluster-wide key derived from the cluster ID
// (DeriveKeyFromClusterID) before being handed to the state store's blob
// bucket.
//
// TokenManager issues the short-lived join tokens a node presents on first
// registration, before it has been issued a certificate.
package security

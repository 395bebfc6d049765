// Package thresholdbls implements the threshold-signature operations of the
// quorum subsystem on the BN256 pairing curve. Operator and quorum public
// keys live on G2, signatures on G1. All inputs and outputs are the curve
// points' and scalars' canonical binary encodings.
package thresholdbls

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/encrypt/ecies"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
)

type Scheme struct {
	suite *bn256.Suite
}

var _ module.ThresholdScheme = (*Scheme)(nil)

func NewScheme() *Scheme {
	return &Scheme{suite: bn256.NewSuite()}
}

func (s *Scheme) GenerateKeyPair() ([]byte, []byte, error) {
	secret, public := bls.NewKeyPair(s.suite, s.suite.RandomStream())
	secretBytes, err := secret.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("could not encode secret key: %w", err)
	}
	publicBytes, err := public.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("could not encode public key: %w", err)
	}
	return secretBytes, publicBytes, nil
}

func (s *Scheme) GenerateContribution(threshold int, count int) ([][]byte, [][]byte, error) {
	priPoly := share.NewPriPoly(s.suite.G2(), threshold, nil, s.suite.RandomStream())
	pubPoly := priPoly.Commit(s.suite.G2().Point().Base())
	_, commits := pubPoly.Info()

	vvec := make([][]byte, 0, len(commits))
	for _, commit := range commits {
		data, err := commit.MarshalBinary()
		if err != nil {
			return nil, nil, fmt.Errorf("could not encode commitment: %w", err)
		}
		vvec = append(vvec, data)
	}

	shares := make([][]byte, 0, count)
	for _, priShare := range priPoly.Shares(count) {
		data, err := priShare.V.MarshalBinary()
		if err != nil {
			return nil, nil, fmt.Errorf("could not encode secret share: %w", err)
		}
		shares = append(shares, data)
	}
	return vvec, shares, nil
}

func (s *Scheme) VerifyContributionShare(index int, shareBytes []byte, vvec [][]byte) bool {
	scalar, err := s.decodeScalar(shareBytes)
	if err != nil {
		return false
	}
	pubPoly, err := s.decodeVector(vvec)
	if err != nil {
		return false
	}
	expected := pubPoly.Eval(index).V
	actual := s.suite.G2().Point().Mul(scalar, nil)
	return expected.Equal(actual)
}

func (s *Scheme) AggregateVerificationVectors(vvecs [][][]byte) ([][]byte, error) {
	if len(vvecs) == 0 {
		return nil, fmt.Errorf("no vectors to aggregate")
	}
	size := len(vvecs[0])
	sums := make([]kyber.Point, size)
	for i := range sums {
		sums[i] = s.suite.G2().Point().Null()
	}
	for _, vvec := range vvecs {
		if len(vvec) != size {
			return nil, fmt.Errorf("inconsistent vector size: %d != %d", len(vvec), size)
		}
		for i, data := range vvec {
			point, err := s.decodePoint(s.suite.G2(), data)
			if err != nil {
				return nil, fmt.Errorf("could not decode vector element: %w", err)
			}
			sums[i] = sums[i].Add(sums[i], point)
		}
	}
	aggregated := make([][]byte, 0, size)
	for _, sum := range sums {
		data, err := sum.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("could not encode vector element: %w", err)
		}
		aggregated = append(aggregated, data)
	}
	return aggregated, nil
}

func (s *Scheme) AggregateSecretShares(shares [][]byte) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("no shares to aggregate")
	}
	sum := s.suite.G2().Scalar().Zero()
	for _, data := range shares {
		scalar, err := s.decodeScalar(data)
		if err != nil {
			return nil, fmt.Errorf("could not decode secret share: %w", err)
		}
		sum = sum.Add(sum, scalar)
	}
	return sum.MarshalBinary()
}

func (s *Scheme) QuorumPublicKey(vvec [][]byte) ([]byte, error) {
	if len(vvec) == 0 {
		return nil, fmt.Errorf("empty verification vector")
	}
	point, err := s.decodePoint(s.suite.G2(), vvec[0])
	if err != nil {
		return nil, fmt.Errorf("could not decode quorum public key: %w", err)
	}
	return point.MarshalBinary()
}

func (s *Scheme) MemberPublicKeyShare(vvec [][]byte, index int) ([]byte, error) {
	pubPoly, err := s.decodeVector(vvec)
	if err != nil {
		return nil, err
	}
	return pubPoly.Eval(index).V.MarshalBinary()
}

func (s *Scheme) VectorHash(vvec [][]byte) llq.Identifier {
	return llq.MakeID(struct {
		Tag  string
		VVec [][]byte
	}{"vvec", vvec})
}

func (s *Scheme) Sign(secret []byte, msg []byte) ([]byte, error) {
	scalar, err := s.decodeScalar(secret)
	if err != nil {
		return nil, fmt.Errorf("could not decode secret key: %w", err)
	}
	return bls.Sign(s.suite, scalar, msg)
}

func (s *Scheme) Verify(public []byte, msg []byte, sig []byte) error {
	point, err := s.decodePoint(s.suite.G2(), public)
	if err != nil {
		return fmt.Errorf("could not decode public key: %w", err)
	}
	return bls.Verify(s.suite, point, msg, sig)
}

// SignShare signs with a quorum secret key share. The share index is carried
// out of band by the signing pipeline, so the signature encoding is identical
// to a plain signature.
func (s *Scheme) SignShare(secretShare []byte, index int, msg []byte) ([]byte, error) {
	return s.Sign(secretShare, msg)
}

func (s *Scheme) VerifyShare(vvec [][]byte, index int, msg []byte, sigShare []byte) error {
	public, err := s.MemberPublicKeyShare(vvec, index)
	if err != nil {
		return err
	}
	return s.Verify(public, msg, sigShare)
}

func (s *Scheme) RecoverSignature(threshold int, count int, shares map[int][]byte, msg []byte) ([]byte, error) {
	if len(shares) < threshold {
		return nil, fmt.Errorf("insufficient signature shares: %d < %d", len(shares), threshold)
	}
	pubShares := make([]*share.PubShare, 0, len(shares))
	for index, sigShare := range shares {
		point, err := s.decodePoint(s.suite.G1(), sigShare)
		if err != nil {
			return nil, fmt.Errorf("could not decode signature share %d: %w", index, err)
		}
		pubShares = append(pubShares, &share.PubShare{I: index, V: point})
	}
	recovered, err := share.RecoverCommit(s.suite.G1(), pubShares, threshold, count)
	if err != nil {
		return nil, fmt.Errorf("could not recover signature: %w", err)
	}
	return recovered.MarshalBinary()
}

func (s *Scheme) AggregateSignatures(sigs [][]byte) ([]byte, error) {
	return bls.AggregateSignatures(s.suite, sigs...)
}

func (s *Scheme) AggregatePublicKeys(publics [][]byte) ([]byte, error) {
	points := make([]kyber.Point, 0, len(publics))
	for _, data := range publics {
		point, err := s.decodePoint(s.suite.G2(), data)
		if err != nil {
			return nil, fmt.Errorf("could not decode public key: %w", err)
		}
		points = append(points, point)
	}
	return bls.AggregatePublicKeys(s.suite, points...).MarshalBinary()
}

func (s *Scheme) Encrypt(public []byte, plaintext []byte) ([]byte, error) {
	point, err := s.decodePoint(s.suite.G2(), public)
	if err != nil {
		return nil, fmt.Errorf("could not decode public key: %w", err)
	}
	return ecies.Encrypt(s.suite.G2(), point, plaintext, sha256.New)
}

func (s *Scheme) Decrypt(secret []byte, ciphertext []byte) ([]byte, error) {
	scalar, err := s.decodeScalar(secret)
	if err != nil {
		return nil, fmt.Errorf("could not decode secret key: %w", err)
	}
	return ecies.Decrypt(s.suite.G2(), scalar, ciphertext, sha256.New)
}

func (s *Scheme) decodeScalar(data []byte) (kyber.Scalar, error) {
	scalar := s.suite.G2().Scalar()
	err := scalar.UnmarshalBinary(data)
	if err != nil {
		return nil, err
	}
	return scalar, nil
}

func (s *Scheme) decodePoint(group kyber.Group, data []byte) (kyber.Point, error) {
	point := group.Point()
	err := point.UnmarshalBinary(data)
	if err != nil {
		return nil, err
	}
	return point, nil
}

func (s *Scheme) decodeVector(vvec [][]byte) (*share.PubPoly, error) {
	if len(vvec) == 0 {
		return nil, fmt.Errorf("empty verification vector")
	}
	commits := make([]kyber.Point, 0, len(vvec))
	for _, data := range vvec {
		point, err := s.decodePoint(s.suite.G2(), data)
		if err != nil {
			return nil, fmt.Errorf("could not decode vector element: %w", err)
		}
		commits = append(commits, point)
	}
	return share.NewPubPoly(s.suite.G2(), s.suite.G2().Point().Base(), commits), nil
}

// SameKey reports whether two key encodings denote the same key.
func SameKey(a []byte, b []byte) bool {
	return bytes.Equal(a, b)
}

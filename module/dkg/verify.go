package dkg

import (
	"fmt"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
)

// VerifyFinalCommitment checks a mined final commitment against the quorum
// parameters and member list: structural sizes, the recovered threshold
// signature under the committed quorum key, and the aggregate operator
// signature of the signers.
func VerifyFinalCommitment(
	scheme module.ThresholdScheme,
	params llq.QuorumParams,
	members []*llq.Masternode,
	fc *llq.FinalCommitment,
) error {

	if len(members) != params.Size {
		return fmt.Errorf("invalid member count: %d != %d", len(members), params.Size)
	}
	if fc.Version != llq.CommitmentVersion {
		return fmt.Errorf("unsupported commitment version: %d", fc.Version)
	}
	if !fc.VerifySizes(params) {
		return fmt.Errorf("commitment fails structural checks")
	}

	commitmentHash := fc.SignHash()

	err := scheme.Verify(fc.QuorumPublicKey, commitmentHash[:], fc.QuorumSig)
	if err != nil {
		return fmt.Errorf("invalid quorum signature: %w", err)
	}

	signerKeys := make([][]byte, 0, fc.CountSigners())
	for i, signed := range fc.Signers {
		if signed {
			signerKeys = append(signerKeys, members[i].OperatorPubKey)
		}
	}
	aggregate, err := scheme.AggregatePublicKeys(signerKeys)
	if err != nil {
		return fmt.Errorf("could not aggregate signer keys: %w", err)
	}
	err = scheme.Verify(aggregate, commitmentHash[:], fc.MembersSig)
	if err != nil {
		return fmt.Errorf("invalid members signature: %w", err)
	}
	return nil
}

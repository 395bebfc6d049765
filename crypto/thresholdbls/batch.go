package thresholdbls

import (
	"runtime"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
)

type batchItem struct {
	source  llq.Identifier
	msgID   llq.Identifier
	msgHash llq.Identifier
	sig     []byte
	public  []byte
}

// BatchVerifier verifies a batch of signed messages. Messages signing the
// same hash are checked with one aggregate pairing; only when an aggregate
// fails does the group fall back to per-message verification to pin down the
// culprits. Groups are verified in parallel.
type BatchVerifier struct {
	scheme *Scheme
	items  []batchItem
}

var _ module.BatchVerifier = (*BatchVerifier)(nil)

func (s *Scheme) NewBatchVerifier() module.BatchVerifier {
	return &BatchVerifier{scheme: s}
}

func (v *BatchVerifier) PushMessage(source llq.Identifier, msgID llq.Identifier, msgHash llq.Identifier, sig []byte, public []byte) {
	v.items = append(v.items, batchItem{
		source:  source,
		msgID:   msgID,
		msgHash: msgHash,
		sig:     sig,
		public:  public,
	})
}

func (v *BatchVerifier) Verify() (map[llq.Identifier]struct{}, map[llq.Identifier]struct{}) {
	badSources := make(map[llq.Identifier]struct{})
	badMessages := make(map[llq.Identifier]struct{})

	groups := make(map[llq.Identifier][]batchItem)
	for _, item := range v.items {
		groups[item.msgHash] = append(groups[item.msgHash], item)
	}

	var mu sync.Mutex
	wp := workerpool.New(runtime.NumCPU())
	for _, group := range groups {
		group := group
		wp.Submit(func() {
			bad := v.verifyGroup(group)
			if len(bad) == 0 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, item := range bad {
				badSources[item.source] = struct{}{}
				badMessages[item.msgID] = struct{}{}
			}
		})
	}
	wp.StopWait()

	return badSources, badMessages
}

// verifyGroup checks all signatures over one message hash and returns the
// items that failed.
func (v *BatchVerifier) verifyGroup(group []batchItem) []batchItem {
	if len(group) > 1 {
		sigs := make([][]byte, 0, len(group))
		publics := make([][]byte, 0, len(group))
		for _, item := range group {
			sigs = append(sigs, item.sig)
			publics = append(publics, item.public)
		}
		aggSig, err := v.scheme.AggregateSignatures(sigs)
		if err == nil {
			aggPub, err := v.scheme.AggregatePublicKeys(publics)
			if err == nil {
				msgHash := group[0].msgHash
				if v.scheme.Verify(aggPub, msgHash[:], aggSig) == nil {
					return nil
				}
			}
		}
	}

	var bad []batchItem
	for _, item := range group {
		err := v.scheme.Verify(item.public, item.msgHash[:], item.sig)
		if err != nil {
			bad = append(bad, item)
		}
	}
	return bad
}

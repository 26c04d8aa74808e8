// Package bucket prepares and tears down the bucket backing a blob store,
// and reconciles the bucket's lifecycle rules with the store's soft-delete
// retention window.
//
// Each store owns at most one lifecycle rule in the bucket, identified by a
// deterministic rule ID derived from the store name. Rules belonging to
// other stores or added by administrators are never touched.
package bucket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/blobvault/blobvault/internal/storage"
)

const (
	// lifecycleRuleIDPrefix plus the store name forms the owned rule ID.
	lifecycleRuleIDPrefix = "Expire soft-deleted objects in blobstore "

	// legacyLifecycleRuleID is the rule ID written by old deployments that
	// shared one global rule across stores. It is migrated to an owned
	// rule on the next reconcile.
	legacyLifecycleRuleID = "Expire soft-deleted blobstore objects"

	// Soft-deleted objects are tagged deleted=true; the owned rule expires
	// objects carrying that tag.
	deletedTagKey   = "deleted"
	deletedTagValue = "true"
)

// Config describes the storage location of one blob store.
type Config struct {
	// Name is the blob store's name, which scopes the owned rule ID.
	Name string
	// Bucket is the backing bucket.
	Bucket string
	// Prefix is the optional key prefix the store's objects live under.
	Prefix string
	// ExpirationDays is the soft-delete retention window. Zero means
	// soft-deleted objects are not expired by the bucket (the store hard
	// deletes instead), and any owned rule is removed.
	ExpirationDays int
}

// Manager reconciles bucket state for blob stores.
type Manager struct {
	client storage.S3API
	// ownershipCheckDisabled skips the bucket-policy probe for
	// environments whose credentials may not read bucket policy.
	ownershipCheckDisabled bool
}

// NewManager returns a bucket manager on the given client.
func NewManager(client storage.S3API, ownershipCheckDisabled bool) *Manager {
	return &Manager{client: client, ownershipCheckDisabled: ownershipCheckDisabled}
}

// OwnedRuleID returns the lifecycle rule ID owned by the named store.
func OwnedRuleID(storeName string) string {
	return lifecycleRuleIDPrefix + storeName
}

// PrepareStorageLocation ensures the bucket exists, is accessible under the
// configured credentials, and carries exactly the lifecycle rule the
// store's retention window calls for.
func (m *Manager) PrepareStorageLocation(ctx context.Context, cfg Config) error {
	if err := ValidateBucketName(cfg.Bucket); err != nil {
		return err
	}

	exists, err := m.bucketExists(ctx, cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.createBucket(ctx, cfg.Bucket); err != nil {
			return err
		}
	} else if !m.ownershipCheckDisabled {
		if err := m.checkOwnership(ctx, cfg.Bucket); err != nil {
			return err
		}
	}

	return m.reconcileRules(ctx, cfg)
}

// DeleteStorageLocation tears down the store's claim on the bucket. An
// empty bucket is deleted outright. A bucket that still has content keeps
// its objects: only the store's lifecycle footprint is removed, preserving
// any foreign rules.
func (m *Manager) DeleteStorageLocation(ctx context.Context, cfg Config) error {
	empty, err := m.bucketEmpty(ctx, cfg.Bucket)
	if err != nil {
		return err
	}
	if empty {
		_, err := m.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(cfg.Bucket)})
		if err != nil {
			if storage.ErrorCode(err) == "BucketNotEmpty" {
				slog.Warn("bucket gained content during removal, leaving it in place",
					"bucket", cfg.Bucket)
				return nil
			}
			return fmt.Errorf("deleting bucket %s: %w", cfg.Bucket, err)
		}
		return nil
	}

	slog.Warn("bucket is not empty, removing only the store's lifecycle rule",
		"bucket", cfg.Bucket, "store", cfg.Name)
	rules, err := m.currentRules(ctx, cfg.Bucket)
	if err != nil {
		return err
	}
	foreign := foreignRules(rules, OwnedRuleID(cfg.Name))
	if len(foreign) == 0 {
		if len(rules) == 0 {
			return nil
		}
		return m.deleteRules(ctx, cfg.Bucket)
	}
	return m.putRules(ctx, cfg.Bucket, foreign)
}

// bucketExists probes the bucket, translating credential failures.
func (m *Manager) bucketExists(ctx context.Context, bucketName string) (bool, error) {
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucketName)})
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, classify(err, "checking credentials", map[string]string{
			invalidAccessKeyIDCode:    invalidAccessKeyIDMsg,
			signatureDoesNotMatchCode: signatureDoesNotMatchMsg,
		})
	}
	return true, nil
}

func (m *Manager) createBucket(ctx context.Context, bucketName string) error {
	_, err := m.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	if err != nil {
		return classify(err, "creating bucket", map[string]string{
			accessDeniedCode: insufficientPermCreateBucketMsg,
		})
	}
	return nil
}

// checkOwnership verifies the bucket is reachable under the configured
// identity by reading its policy. A bucket created by someone else denies
// the read; a policy probe the store does not support is an identity
// problem.
func (m *Manager) checkOwnership(ctx context.Context, bucketName string) error {
	_, err := m.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(bucketName)})
	if err != nil {
		// Buckets without a policy answer NoSuchBucketPolicy, which still
		// proves the bucket is ours to read.
		if storage.ErrorCode(err) == "NoSuchBucketPolicy" {
			return nil
		}
		return classify(err, "checking bucket ownership", map[string]string{
			accessDeniedCode:     bucketOwnershipMsg,
			methodNotAllowedCode: invalidIdentityMsg,
		})
	}
	return nil
}

func (m *Manager) bucketEmpty(ctx context.Context, bucketName string) (bool, error) {
	out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucketName),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("listing bucket %s: %w", bucketName, err)
	}
	return len(out.Contents) == 0, nil
}

// reconcileRules rewrites the bucket's lifecycle configuration so it holds
// exactly one owned rule at the configured expiration (or none when the
// window is zero), carries foreign rules through untouched, and retires the
// legacy global rule.
func (m *Manager) reconcileRules(ctx context.Context, cfg Config) error {
	rules, err := m.currentRules(ctx, cfg.Bucket)
	if err != nil {
		return err
	}

	ownedID := OwnedRuleID(cfg.Name)
	foreign := foreignRules(rules, ownedID)
	legacyPresent := len(rules) != len(foreign)+countOwned(rules, ownedID)

	if cfg.ExpirationDays <= 0 {
		if len(rules) == len(foreign) {
			// Nothing of ours to remove.
			return nil
		}
		if len(foreign) == 0 {
			return m.deleteRules(ctx, cfg.Bucket)
		}
		return m.putRules(ctx, cfg.Bucket, foreign)
	}

	if owned := findRule(rules, ownedID); owned != nil && !legacyPresent {
		if owned.Expiration != nil && aws.ToInt32(owned.Expiration.Days) == int32(cfg.ExpirationDays) {
			return nil
		}
	}
	return m.putRules(ctx, cfg.Bucket, append(foreign, m.buildRule(cfg)))
}

// buildRule constructs the owned expiration rule for soft-deleted objects.
func (m *Manager) buildRule(cfg Config) types.LifecycleRule {
	tag := types.Tag{Key: aws.String(deletedTagKey), Value: aws.String(deletedTagValue)}
	filter := &types.LifecycleRuleFilter{Tag: &tag}
	if cfg.Prefix != "" {
		filter = &types.LifecycleRuleFilter{
			And: &types.LifecycleRuleAndOperator{
				Prefix: aws.String(cfg.Prefix + "/"),
				Tags:   []types.Tag{tag},
			},
		}
	}
	return types.LifecycleRule{
		ID:         aws.String(OwnedRuleID(cfg.Name)),
		Status:     types.ExpirationStatusEnabled,
		Filter:     filter,
		Expiration: &types.LifecycleExpiration{Days: aws.Int32(int32(cfg.ExpirationDays))},
	}
}

// currentRules fetches the bucket's rule set; a bucket with no lifecycle
// configuration yields an empty set.
func (m *Manager) currentRules(ctx context.Context, bucketName string) ([]types.LifecycleRule, error) {
	out, err := m.client.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		if storage.IsNoSuchLifecycleConfiguration(err) || storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching lifecycle configuration for %s: %w", bucketName, err)
	}
	return out.Rules, nil
}

func (m *Manager) putRules(ctx context.Context, bucketName string, rules []types.LifecycleRule) error {
	_, err := m.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucketName),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: rules,
		},
	})
	if err != nil {
		return fmt.Errorf("writing lifecycle configuration for %s: %w", bucketName, err)
	}
	return nil
}

func (m *Manager) deleteRules(ctx context.Context, bucketName string) error {
	_, err := m.client.DeleteBucketLifecycle(ctx, &s3.DeleteBucketLifecycleInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		return fmt.Errorf("deleting lifecycle configuration for %s: %w", bucketName, err)
	}
	return nil
}

// foreignRules filters out the owned rule and the legacy global rule.
func foreignRules(rules []types.LifecycleRule, ownedID string) []types.LifecycleRule {
	var foreign []types.LifecycleRule
	for _, rule := range rules {
		id := aws.ToString(rule.ID)
		if id == ownedID || id == legacyLifecycleRuleID {
			continue
		}
		foreign = append(foreign, rule)
	}
	return foreign
}

func countOwned(rules []types.LifecycleRule, ownedID string) int {
	n := 0
	for _, rule := range rules {
		if aws.ToString(rule.ID) == ownedID {
			n++
		}
	}
	return n
}

func findRule(rules []types.LifecycleRule, id string) *types.LifecycleRule {
	for i := range rules {
		if aws.ToString(rules[i].ID) == id {
			return &rules[i]
		}
	}
	return nil
}

package compliance

import (
	"context"
	"fmt"
	"os"
)

// VaultKeyFilePermissions checks that the device's local vault-encryption
// key file has no group or world permission bits set (read, write or
// execute).
func VaultKeyFilePermissions(path string) Check {
	return CheckFunc(func(ctx context.Context) Result {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: "vault_key_file_permissions", Status: StatusFail, Error: fmt.Errorf("stat %s: %w", path, err)}
		}
		mode := info.Mode().Perm()
		if mode&0o077 != 0 {
			return Result{
				Name:    "vault_key_file_permissions",
				Status:  StatusFail,
				Details: fmt.Sprintf("%s has mode %o, expected no group/world access", path, mode),
			}
		}
		return Result{Name: "vault_key_file_permissions", Status: StatusPass}
	})
}

// VaultRotationFreshness checks that an Authenticator's exchanged count
// hasn't exceeded TimeToLive without a Reset, which would indicate the
// rotation trigger was missed.
func VaultRotationFreshness(timeLived func() int, maxMessages int) Check {
	return CheckFunc(func(ctx context.Context) Result {
		lived := timeLived()
		if lived > maxMessages {
			return Result{
				Name:    "vault_rotation_freshness",
				Status:  StatusWarn,
				Details: fmt.Sprintf("exchanged count %d exceeds rotation threshold %d", lived, maxMessages),
			}
		}
		return Result{Name: "vault_rotation_freshness", Status: StatusPass}
	})
}

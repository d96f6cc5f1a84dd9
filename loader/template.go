package loader

// StarterRulebook is the commented example mapping file written by the
// init command.
const StarterRulebook = `# Mapping rulebook: how each deprecated source table migrates into the
# redesigned target schema. Every rename, drop and derivation is declared
# here; nothing is inferred.
version: 1

tables:
  - source_table: users
    target_table: accounts
    # Source fields forming row identity. Composite keys list every field
    # in key order.
    primary_key: [user_id]
    # Extraction order. Defaults to primary_key. Rows whose first sort
    # field is NULL are read last.
    sort_key: [created]
    # UPDATE_EXISTING (default) | SKIP_EXISTING | FAIL_ON_EXISTING
    conflict_policy: UPDATE_EXISTING
    fields:
      - source: user_id
        target: id
      - source: user_name
        target: username
        transform: {kind: trim}
      - source: email_address
        target: email
        transform: {kind: lower}
      # Enum literals are rewritten via an explicit value table.
      - source: role
        target: role
        transform:
          kind: enum
          values:
            ADMINISTRATOR: admin
            REGULAR: member
      # Legacy text timestamps become real timestamps.
      - source: created
        target: created_at
        transform: {kind: cast, to: timestamp}
      # Deprecated column, deliberately dropped: source without target.
      - source: legacy_flags
      # Target-only required column: no source, constant default.
      - target: source_system
        default: legacy
    # Fixed-width slot columns on the source row become child rows keyed
    # by (parent id, slot position). NULL slots produce no row.
    derived:
      - target_table: account_phones
        parent_key:
          - {source: user_id, target: account_id}
        index_field: slot
        value_field: phone
        slots: [phone1, phone2, phone3]

  - source_table: orders
    target_table: purchases
    primary_key: [order_id]
    # Migrated after users because purchases.account_id references
    # accounts.id.
    depends_on: [users]
    fields:
      - source: order_id
        target: id
      - source: user_id
        target: account_id
      - source: status
        target: state
        transform: {kind: lower}
      - source: total_cents
        target: total_cents
      - source: ordered_at
        target: ordered_at
        transform: {kind: cast, to: timestamp}
`
